package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

const consentPersistTask = "PersistFirstUseRecords"

// ConsentConfig holds first-use consent settings.
type ConsentConfig struct {
	PersistDelay time.Duration // Debounce before writing records back
	DialogTTL    time.Duration // How long a pending dialog waits for the UI
}

// DefaultConsentConfig returns default consent configuration.
func DefaultConsentConfig() ConsentConfig {
	return ConsentConfig{
		PersistDelay: 2 * time.Second,
		DialogTTL:    5 * time.Minute,
	}
}

// pendingDialog is a click paused on the first-use dialog.
type pendingDialog struct {
	request  domain.DialogRequest
	mask     uint64
	callback domain.DialogCallback
}

// ConsentManager tracks first-use consent and paused clicks.
type ConsentManager struct {
	config    ConsentConfig
	store     domain.ConsentStore
	launcher  domain.DialogLauncher
	scheduler domain.Scheduler
	logger    *zap.Logger

	mu      sync.Mutex
	records map[uint32]uint64
	pending map[string]*pendingDialog
}

// NewConsentManager creates a consent manager. Call Load before use.
func NewConsentManager(
	config ConsentConfig,
	store domain.ConsentStore,
	launcher domain.DialogLauncher,
	scheduler domain.Scheduler,
	logger *zap.Logger,
) *ConsentManager {
	return &ConsentManager{
		config:    config,
		store:     store,
		launcher:  launcher,
		scheduler: scheduler,
		logger:    logger,
		records:   make(map[uint32]uint64),
		pending:   make(map[string]*pendingDialog),
	}
}

// Load reads persisted consent records.
func (c *ConsentManager) Load() error {
	records, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load first use records: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for token, mask := range records {
		c.records[token] |= mask
	}
	c.logger.Info("loaded first use records", zap.Int("count", len(records)))
	return nil
}

// Consented reports whether every bit of mask is recorded for the token.
func (c *ConsentManager) Consented(tokenID uint32, mask uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[tokenID]&mask == mask
}

// Record marks mask as consented and schedules a debounced write-back.
func (c *ConsentManager) Record(tokenID uint32, mask uint64) {
	c.mu.Lock()
	if c.records[tokenID]&mask == mask {
		c.mu.Unlock()
		return
	}
	c.records[tokenID] |= mask
	c.mu.Unlock()

	c.scheduler.PostDelayed(consentPersistTask, c.config.PersistDelay, func() {
		if err := c.Flush(); err != nil {
			c.logger.Error("failed to persist first use records", zap.Error(err))
		}
	})
}

// Flush writes all records to the store.
func (c *ConsentManager) Flush() error {
	c.mu.Lock()
	snapshot := make(map[uint32]uint64, len(c.records))
	for k, v := range c.records {
		snapshot[k] = v
	}
	c.mu.Unlock()

	return c.store.Save(snapshot)
}

// Begin registers a paused click and returns its resume token.
// The dialog is shown by Launch, outside any registry lock.
func (c *ConsentManager) Begin(req domain.DialogRequest, mask uint64, cb domain.DialogCallback) string {
	req.ResumeToken = uuid.NewString()

	c.mu.Lock()
	c.pending[req.ResumeToken] = &pendingDialog{request: req, mask: mask, callback: cb}
	c.mu.Unlock()

	token := req.ResumeToken
	c.scheduler.PostDelayed(dialogTaskName(token), c.config.DialogTTL, func() {
		if _, ok := c.Take(token); ok {
			c.logger.Info("first use dialog expired", zap.String("resume_token", token))
		}
	})
	return token
}

// Launch shows the dialog for a pending click. On failure the pending
// entry is dropped.
func (c *ConsentManager) Launch(resumeToken string) error {
	c.mu.Lock()
	p, ok := c.pending[resumeToken]
	c.mu.Unlock()
	if !ok {
		return domain.Errorf(domain.ErrValueInvalid, "unknown resume token")
	}

	if err := c.launcher.Launch(p.request); err != nil {
		c.Take(resumeToken)
		return domain.Errorf(domain.ErrValueInvalid, "start first use dialog failed: %v", err)
	}
	return nil
}

// Toast shows the "already granted" toast. Failures are logged only.
func (c *ConsentManager) Toast(req domain.DialogRequest) {
	if err := c.launcher.Toast(req); err != nil {
		c.logger.Warn("failed to show toast", zap.Int32("sc_id", req.ScID), zap.Error(err))
	}
}

// Take removes and returns a pending click.
func (c *ConsentManager) Take(resumeToken string) (*pendingDialog, bool) {
	c.mu.Lock()
	p, ok := c.pending[resumeToken]
	if ok {
		delete(c.pending, resumeToken)
	}
	c.mu.Unlock()

	if ok {
		c.scheduler.Cancel(dialogTaskName(resumeToken))
	}
	return p, ok
}

// DropProcess discards every pending click of a process.
func (c *ConsentManager) DropProcess(pid int32) int {
	c.mu.Lock()
	var dropped []string
	for token, p := range c.pending {
		if p.request.PID == pid {
			delete(c.pending, token)
			dropped = append(dropped, token)
		}
	}
	c.mu.Unlock()

	for _, token := range dropped {
		c.scheduler.Cancel(dialogTaskName(token))
	}
	return len(dropped)
}

// PendingCount returns the number of paused clicks.
func (c *ConsentManager) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func dialogTaskName(resumeToken string) string {
	return "FirstUseDialog" + resumeToken
}
