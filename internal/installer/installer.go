// Package installer runs a bot's dependency installation after upload.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/betbot/bothost/internal/domain"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "installer")

// Hook installs dependencies for an extracted bot directory.
type Hook interface {
	Install(ctx context.Context, dir string) error
}

// Noop 不做任何安装
type Noop struct{}

func (Noop) Install(context.Context, string) error { return nil }

// NpmInstaller runs `npm install` when dir contains a package.json.
type NpmInstaller struct {
	Command string        // 默认 npm
	Args    []string      // 默认 install
	Timeout time.Duration // <=0 不限时
}

const maxStderrInError = 4 << 10

func (n NpmInstaller) Install(ctx context.Context, dir string) error {
	manifest := filepath.Join(dir, "package.json")
	if _, err := os.Stat(manifest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: stat package.json: %v", domain.ErrDependencyInstall, err)
	}

	command := n.Command
	if command == "" {
		command = "npm"
	}
	args := n.Args
	if len(args) == 0 {
		args = []string{"install"}
	}
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Stderr = &stderr

	start := time.Now()
	log.Infof("installing dependencies: dir=%s cmd=%s %s", dir, command, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderrInError {
			msg = msg[len(msg)-maxStderrInError:]
		}
		if msg != "" {
			return fmt.Errorf("%w: %s failed: %v: %s", domain.ErrDependencyInstall, command, err, msg)
		}
		return fmt.Errorf("%w: %s failed: %v", domain.ErrDependencyInstall, command, err)
	}
	log.Infof("dependencies installed: dir=%s took=%s", dir, time.Since(start).Round(time.Millisecond))
	return nil
}
