package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/caedis/pack-sync/internal/logging"
)

// ExecInstaller runs an external install tool. The tool receives the
// versions as flags and prints the launch identifier as its last line of
// output.
type ExecInstaller struct {
	Path     string
	JavaPath string
}

func (e *ExecInstaller) Install(ctx context.Context, req InstallRequest) (string, error) {
	if strings.TrimSpace(e.Path) == "" {
		return "", errors.New("install tool path is not configured")
	}

	args := []string{
		"--minecraft", req.MinecraftVersion,
		"--loader", req.LoaderVersion,
		"--side", req.Side.String(),
		"--dir", req.GameDir,
	}
	if e.JavaPath != "" {
		args = append(args, "--java", e.JavaPath)
	}

	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Dir = req.InstanceDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debugf("running install tool %s %s\n", e.Path, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("install tool failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("install tool failed: %w", err)
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		logging.Debugf("install tool stderr: %s\n", s)
	}

	if id := lastLine(stdout.String()); id != "" {
		return id, nil
	}
	return LaunchIDFor(req.MinecraftVersion, req.LoaderVersion), nil
}

func lastLine(s string) string {
	var last string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
