package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// dialogPayload is the JSON handed to the dialog UI.
type dialogPayload struct {
	Action      string  `json:"action"`
	ResumeToken string  `json:"resume_token,omitempty"`
	TokenID     uint32  `json:"token_id"`
	PID         int32   `json:"pid"`
	ScID        int32   `json:"sc_id"`
	Type        string  `json:"type"`
	DisplayID   uint64  `json:"display_id"`
	WindowID    int32   `json:"window_id"`
	FoldOffsetY float64 `json:"fold_offset_y,omitempty"`
}

func newDialogPayload(action string, req domain.DialogRequest) dialogPayload {
	return dialogPayload{
		Action:      action,
		ResumeToken: req.ResumeToken,
		TokenID:     req.TokenID,
		PID:         req.PID,
		ScID:        req.ScID,
		Type:        req.Type.String(),
		DisplayID:   req.DisplayID,
		WindowID:    req.WindowID,
		FoldOffsetY: req.FoldOffsetY,
	}
}

// CommandDialogLauncher starts an external UI command per dialog. The
// request is written to the command's stdin as JSON; the UI answers later
// through the dialog completion API.
type CommandDialogLauncher struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

var _ domain.DialogLauncher = (*CommandDialogLauncher)(nil)

// NewCommandDialogLauncher creates a launcher for command. The UI process
// is killed once timeout elapses.
func NewCommandDialogLauncher(command []string, timeout time.Duration, logger *zap.Logger) (*CommandDialogLauncher, error) {
	if len(command) == 0 {
		return nil, errors.New("dialog command is empty")
	}
	return &CommandDialogLauncher{command: command, timeout: timeout, logger: logger}, nil
}

// Launch starts the first-use dialog UI.
func (l *CommandDialogLauncher) Launch(req domain.DialogRequest) error {
	return l.start(newDialogPayload("launch", req))
}

// Toast starts the toast UI.
func (l *CommandDialogLauncher) Toast(req domain.DialogRequest) error {
	return l.start(newDialogPayload("toast", req))
}

func (l *CommandDialogLauncher) start(p dialogPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode dialog request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	cmd := exec.CommandContext(ctx, l.command[0], l.command[1:]...)
	cmd.Stdin = bytes.NewReader(body)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start dialog UI: %w", err)
	}

	go func() {
		defer cancel()
		if err := cmd.Wait(); err != nil {
			l.logger.Warn("dialog UI exited with error",
				zap.String("action", p.Action),
				zap.Int32("pid", p.PID),
				zap.Error(err),
				zap.String("stderr", stderr.String()))
		}
	}()
	return nil
}

// LogDialogLauncher only logs dialog requests. A system UI watching the
// log or the API completes them.
type LogDialogLauncher struct {
	Logger *zap.Logger
}

var _ domain.DialogLauncher = LogDialogLauncher{}

// Launch logs the dialog request.
func (l LogDialogLauncher) Launch(req domain.DialogRequest) error {
	l.Logger.Info("first-use dialog requested",
		zap.String("resume_token", req.ResumeToken),
		zap.Int32("pid", req.PID),
		zap.Int32("sc_id", req.ScID),
		zap.String("type", req.Type.String()))
	return nil
}

// Toast logs the toast request.
func (l LogDialogLauncher) Toast(req domain.DialogRequest) error {
	l.Logger.Info("toast requested", zap.Int32("pid", req.PID), zap.Int32("sc_id", req.ScID))
	return nil
}
