package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrNoXvfb is returned for a headful run on a host with neither a DISPLAY
// nor an Xvfb binary.
var ErrNoXvfb = errors.New("browser: no DISPLAY and no Xvfb binary")

// xvfbReady bounds the wait for the display socket to appear.
const xvfbReady = 5 * time.Second

// startXvfb runs a virtual display for headful runs and waits until its
// socket accepts clients.
func (m *Manager) startXvfb(ctx context.Context) error {
	if m.xvfb != nil {
		return nil
	}

	bin, err := exec.LookPath("Xvfb")
	if err != nil {
		return ErrNoXvfb
	}

	display := m.cfg.XvfbDisplay
	cmd := exec.Command(bin, display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	if err := waitDisplay(ctx, display, xvfbReady); err != nil {
		m.stopXvfb()
		return err
	}

	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// displaySocket maps ":99" (or ":99.0") to its X11 unix socket.
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return "/tmp/.X11-unix/X" + n
}

func waitDisplay(ctx context.Context, display string, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	sock := displaySocket(display)
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if _, err := os.Stat(sock); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("xvfb display %s not ready: %w", display, ctx.Err())
		case <-t.C:
		}
	}
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if p := m.xvfb.Process; p != nil {
		if err := p.Kill(); err != nil {
			m.cfg.Logger.Warn("browser: kill xvfb", "pid", p.Pid, "error", err)
		}
		_ = m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}
