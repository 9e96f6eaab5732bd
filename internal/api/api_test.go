package api

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/tfmt/internal/errlog"
	"github.com/kalambet/tfmt/internal/ipc"
	"github.com/kalambet/tfmt/internal/storage"
)

const testToken = "test-token"

type nopClipboard struct{ last string }

func (c *nopClipboard) WriteText(_ context.Context, text string) error {
	c.last = text
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDispatcher returns an armed dispatcher over a fresh on-disk store.
func newTestDispatcher(t *testing.T) (*ipc.Dispatcher, *storage.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Options{DataDir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	d := ipc.New(errlog.New(filepath.Join(dir, "logs"), quietLogger()), quietLogger())
	require.NoError(t, ipc.RegisterCatalog(d, ipc.Services{
		Store:     st,
		Clipboard: &nopClipboard{},
		Version:   "0.0.0-test",
		Logger:    quietLogger(),
	}))
	require.NoError(t, d.Arm())
	return d, st
}
