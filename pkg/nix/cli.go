// pkg/nix/cli.go
package nix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// defaultProfileBin is where multi-user installs put the nix binaries.
// It is outside PATH for non-login shells, so it is checked explicitly.
const defaultProfileBin = "/nix/var/nix/profiles/default/bin"

// FindBinary resolves a nix binary by name (e.g. "nix", "nix-store"),
// checking PATH first and then the default profile directory.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	profilePath := filepath.Join(defaultProfileBin, name)
	if _, err := os.Stat(profilePath); err == nil {
		return profilePath, nil
	}

	return "", fmt.Errorf("%s not found on PATH or at %s", name, profilePath)
}

// Command runs a nix binary with an explicit environment. The process
// environment of the caller is never modified.
type Command struct {
	Path  string    // absolute path of the binary
	Env   []string  // extra KEY=VALUE entries appended to os.Environ
	Stdin io.Reader // optional
}

// Run executes the binary with args and returns stdout. Stderr is
// captured and preferred in error messages since nix reports there.
func (c *Command) Run(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	if err := cmd.Run(); err != nil {
		return nil, formatError(filepath.Base(c.Path), args, &stderr, err)
	}
	return stdout.Bytes(), nil
}

// formatError produces an error for a failed nix command, preferring
// stderr output over the generic exec error
func formatError(binaryName string, args []string, stderr *bytes.Buffer, err error) error {
	commandString := binaryName + " " + strings.Join(args, " ")
	stderrText := strings.TrimSpace(stderr.String())
	if stderrText != "" {
		return fmt.Errorf("%s: %s", commandString, stderrText)
	}
	return fmt.Errorf("%s: %w", commandString, err)
}
