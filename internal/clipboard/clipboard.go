// Package clipboard copies text to the system clipboard through the
// platform's command-line tool.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnavailable is returned when no clipboard tool is installed.
var ErrUnavailable = errors.New("no clipboard tool found")

// Writer places text on the clipboard.
type Writer interface {
	WriteText(ctx context.Context, text string) error
}

// tool is a clipboard command that reads the text from stdin.
type tool struct {
	name string
	args []string
}

func candidates(goos string) []tool {
	switch goos {
	case "darwin":
		return []tool{{name: "pbcopy"}}
	case "windows":
		return []tool{{name: "clip.exe"}}
	default:
		return []tool{
			{name: "wl-copy"},
			{name: "xclip", args: []string{"-selection", "clipboard"}},
			{name: "xsel", args: []string{"--clipboard", "--input"}},
		}
	}
}

// System writes through the first available platform tool.
type System struct {
	goos     string
	lookPath func(string) (string, error)
}

// NewSystem returns a Writer for the current platform.
func NewSystem() *System {
	return &System{goos: runtime.GOOS, lookPath: exec.LookPath}
}

func (s *System) resolve() (string, []string, error) {
	for _, t := range candidates(s.goos) {
		if path, err := s.lookPath(t.name); err == nil {
			return path, t.args, nil
		}
	}
	return "", nil, ErrUnavailable
}

func (s *System) WriteText(ctx context.Context, text string) error {
	path, args, err := s.resolve()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("running %s: %w, output: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
