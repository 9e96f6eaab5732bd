package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/tfmt/internal/config"
	"github.com/kalambet/tfmt/internal/ipc"
	"github.com/kalambet/tfmt/internal/schema"
	"github.com/kalambet/tfmt/internal/storage"
)

// --- call ---

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <command> [payload-json|-]",
		Short: "Dispatch a command on the running server and print the envelope",
		Long: `Dispatch a command on the running server and print the envelope.

The payload is a JSON object; pass "-" to read it from stdin.

Examples:
  tfmt call app:getVersion
  tfmt call store:get '{"key":"defaultModel"}'
  echo '{"text":"hello"}' | tfmt call clipboard:copy -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			var payload json.RawMessage
			if len(args) == 2 {
				raw := args[1]
				if raw == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("reading payload: %w", err)
					}
					raw = string(data)
				}
				payload = json.RawMessage(raw)
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}
			env, err := client.call(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			if format == formatText {
				format = formatJSON
			}
			if err := render(cmd.OutOrStdout(), format, env); err != nil {
				return err
			}
			if !env.Success {
				return envelopeError(env)
			}
			return nil
		},
	}
}

// --- history ---

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, add and delete saved formatting results",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved results, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var hist ipc.HistoryResponse
			if err := client.callInto(cmd.Context(), schema.StoreGetHistory, nil, &hist); err != nil {
				return err
			}
			if format != formatText {
				return render(cmd.OutOrStdout(), format, hist)
			}
			if hist.Total == 0 {
				printStep("No history yet")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSAVED\tMODEL\tTEXT")
			for _, it := range hist.Items {
				saved := time.UnixMilli(it.Timestamp).Format(time.DateTime)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, saved, it.ModelUsed, snippet(it.FormattedText, 48))
			}
			return tw.Flush()
		},
	}

	var original, formatted, model string
	add := &cobra.Command{
		Use:   "add",
		Short: "Save a formatting result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if formatted == "" {
				return fmt.Errorf("--formatted is required")
			}
			item := storage.HistoryItem{
				ID:            uuid.NewString(),
				OriginalText:  original,
				FormattedText: formatted,
				ModelUsed:     model,
				Timestamp:     time.Now().UnixMilli(),
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp ipc.SaveHistoryResponse
			if err := client.callInto(cmd.Context(), schema.StoreSaveHistory, map[string]any{"item": item}, &resp); err != nil {
				return err
			}
			printSuccess("Saved %s (%d items)", item.ID, resp.TotalItems)
			return nil
		},
	}
	add.Flags().StringVar(&original, "original", "", "original transcription")
	add.Flags().StringVar(&formatted, "formatted", "", "formatted text")
	add.Flags().StringVar(&model, "model", storage.DefaultModel, "model that produced the result")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete one saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp ipc.RemoveHistoryResponse
			if err := client.callInto(cmd.Context(), schema.StoreRemoveHistory, map[string]string{"id": args[0]}, &resp); err != nil {
				return err
			}
			if !resp.Removed {
				printWarning("No history item %s", args[0])
				return nil
			}
			printSuccess("Removed %s (%d items left)", args[0], resp.TotalItems)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved results",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.callInto(cmd.Context(), schema.StoreClearHistory, nil, nil); err != nil {
				return err
			}
			printSuccess("History cleared")
			return nil
		},
	}

	cmd.AddCommand(list, add, remove, clearCmd)
	return cmd
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// --- models ---

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and manage selectable models",
	}

	var refresh bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List custom and discovered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp ipc.ModelsListResponse
			if err := client.callInto(cmd.Context(), schema.ModelsList, map[string]bool{"refresh": refresh}, &resp); err != nil {
				return err
			}
			if format != formatText {
				return render(cmd.OutOrStdout(), format, resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tDEFAULT")
			for _, m := range resp.Models {
				def := ""
				if m.ID == resp.DefaultModel {
					def = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Provider, def)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&refresh, "refresh", false, "query the local inference server")

	var (
		provider      string
		baseURL       string
		contextWindow int
	)
	add := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Add a custom model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"id":       args[0],
				"name":     args[1],
				"provider": provider,
			}
			if baseURL != "" {
				req["baseUrl"] = baseURL
			}
			if contextWindow > 0 {
				req["contextWindow"] = contextWindow
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.callInto(cmd.Context(), schema.ModelsAdd, req, nil); err != nil {
				return err
			}
			printSuccess("Added model %s", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&provider, "provider", string(storage.ProviderOllama), "ollama, lmstudio or llamacpp")
	add.Flags().StringVar(&baseURL, "base-url", "", "server URL for this model")
	add.Flags().IntVar(&contextWindow, "context-window", 0, "context window in tokens")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a custom model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp ipc.RemovedResponse
			if err := client.callInto(cmd.Context(), schema.ModelsRemove, map[string]string{"id": args[0]}, &resp); err != nil {
				return err
			}
			if !resp.Removed {
				printWarning("No custom model %s", args[0])
				return nil
			}
			printSuccess("Removed model %s", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

// --- config ---

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			keys := config.ShowAll(cfg)
			if format != formatText {
				return render(cmd.OutOrStdout(), format, keys)
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", bold(k.Key), k.Value)
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := config.SetKey(key, value); err != nil {
				return err
			}
			printSuccess("Set %s = %s", key, value)
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// --- migrate ---

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the store schema up to date (server must be stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if serverRunning(cfg.Server.Port) {
				return fmt.Errorf("tfmt is running on port %d; stop it first", cfg.Server.Port)
			}

			printStep("Opening %s store in %s", cfg.Storage.Backend, cfg.Storage.DataDir)
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			printSuccess("Store at schema version %d (latest %d)", store.SchemaVersion(), storage.LatestSchemaVersion)
			return nil
		},
	}
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tfmt %s\n", version)
			return nil
		},
	}
}

