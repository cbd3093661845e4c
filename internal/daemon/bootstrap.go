package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// StartDaemon spawns `<executable> serve <args...>` detached from the
// parent session and returns its pid. An empty executable means the
// running binary.
func StartDaemon(executable string, args ...string) (int, error) {
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return 0, err
		}
	}

	cmd := exec.Command(executable, append([]string{"serve"}, args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// Reap the child if it exits while we are still around.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// WaitForSocket polls until a unix socket at path accepts connections.
func WaitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("socket %s not ready: %w", path, err)
		case <-ticker.C:
		}
	}
}
