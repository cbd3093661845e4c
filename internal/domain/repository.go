package domain

import (
	"context"
	"time"
)

// ProcessManager handles OS process queries.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// UID returns the real uid owning a PID.
	UID(pid int) (int, error)

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// PermissionKit is the platform permission-token store.
// It owns the grant/revoke primitive; the engine only decides when to call it.
type PermissionKit interface {
	// GrantPermission grants a named permission to a token.
	GrantPermission(tokenID uint32, permission string) error

	// RevokePermission revokes a named permission from a token.
	RevokePermission(tokenID uint32, permission string) error

	// VerifyPermission reports whether the token currently holds the permission.
	VerifyPermission(tokenID uint32, permission string) bool

	// IsDLPSandbox reports whether the token belongs to a data-loss-prevention sandbox.
	IsDLPSandbox(tokenID uint32) bool
}

// DisplayProvider returns active display geometry.
type DisplayProvider interface {
	// ScreenInfo returns screen size and shape for a display, adjusted for cross-axis state.
	ScreenInfo(displayID uint64, crossAxis CrossAxisState) (ScreenInfo, error)
}

// WindowProvider returns window render state.
type WindowProvider interface {
	// WindowInfo returns scale factors and the remapped rect of a window.
	WindowInfo(windowID int32) (WindowInfo, error)
}

// EnhanceAdapter performs opaque tamper-detection checks.
// It is optional; a nil adapter skips the checks.
type EnhanceAdapter interface {
	// CheckComponent verifies integrity of a reported descriptor and its raw payload.
	CheckComponent(pid int32, d *Descriptor, raw []byte) error

	// CheckClick verifies integrity data carried by a click.
	CheckClick(pid int32, click ClickEvent) error

	// NotifyProcessDied releases per-process enhance state.
	NotifyProcessDied(pid int32)
}

// DialogRequest asks the consent UI to show a first-use dialog.
type DialogRequest struct {
	ResumeToken string
	TokenID     uint32
	PID         int32
	ScID        int32
	Type        ComponentType
	DisplayID   uint64
	WindowID    int32
	CrossAxis   CrossAxisState
	FoldOffsetY float64
}

// DialogLauncher drives the first-use dialog and toast UI.
type DialogLauncher interface {
	// Launch shows a first-use dialog; the UI later completes it by resume token.
	Launch(req DialogRequest) error

	// Toast shows the informational "already granted" toast.
	Toast(req DialogRequest) error
}

// ConsentStore persists first-use consent as token -> component-kind bitmask.
type ConsentStore interface {
	// Load returns all consent records.
	Load() (map[uint32]uint64, error)

	// Save replaces all consent records.
	Save(records map[uint32]uint64) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// AuditKind classifies audit events.
type AuditKind string

const (
	AuditSecurity AuditKind = "SECURITY"
	AuditFault    AuditKind = "FAULT"
	AuditBehavior AuditKind = "BEHAVIOR"
)

// Audit event names.
const (
	EventComponentInfoCheckFailed = "COMPONENT_INFO_CHECK_FAILED"
	EventClipCheckFailed          = "CLIP_CHECK_FAILED"
	EventClickInfoCheckFailed     = "CLICK_INFO_CHECK_FAILED"
	EventChallengeCheckFailed     = "CHALLENGE_CHECK_FAILED"
	EventCallbackFailed           = "CALLBACK_FAILED"
	EventTempGrantSuccess         = "TEMP_GRANT_SUCCESS"
	EventTempGrantFailed          = "TEMP_GRANT_FAILED"
	EventTempRevoke               = "TEMP_REVOKE"
	EventInMaliciousList          = "IN_MALICIOUS_LIST"
)

// AuditEvent is one structured security event.
type AuditEvent struct {
	Name    string
	Kind    AuditKind
	PID     int32
	UID     int32
	ScID    int32
	Type    ComponentType
	Scene   string
	Reason  string
	Message string
	Time    time.Time
}

// AuditSink receives fire-and-forget audit events. Emit never blocks.
type AuditSink interface {
	Emit(event AuditEvent)
}

// Scheduler runs named, cancellable delayed tasks.
// A task fires at most once; posting an existing key replaces the pending task.
type Scheduler interface {
	// PostDelayed schedules fn to run after delay under key.
	PostDelayed(key string, delay time.Duration, fn func())

	// Cancel removes a pending task. Cancelling an unknown key is a no-op.
	Cancel(key string) bool
}

// IdentityResolver maps transport-level peer credentials to a caller.
type IdentityResolver interface {
	// Resolve returns the caller for a peer, or ErrValueInvalid when unresolvable.
	Resolve(ctx context.Context, pid, uid int32) (CallerInfo, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ClickState is the terminal (or paused) state of a click report.
type ClickState string

const (
	ClickGranted                  ClickState = "granted"
	ClickRejectedInvalidComponent ClickState = "rejected_invalid_component"
	ClickRejectedClickInvalid     ClickState = "rejected_click_invalid"
	ClickRejectedMalicious        ClickState = "rejected_malicious"
	ClickRejected                 ClickState = "rejected"
	ClickPendingDialog            ClickState = "pending_dialog"
)

// ClickResult is the outcome of a click report or a resumed dialog.
type ClickResult struct {
	State       ClickState
	ResumeToken string
	Message     string
}

// DialogCallback is notified when a pending click resumes.
type DialogCallback func(result ClickResult, err error)

// ClickRequest is one click report for a registered entity.
type ClickRequest struct {
	ScID       int32
	Descriptor *Descriptor
	Raw        []byte
	Click      ClickEvent
	// PreMessage is a client-side pre-check failure reported with the click.
	PreMessage string
	Callback   DialogCallback
}

// ComponentManager is the component registry and click entry point.
type ComponentManager interface {
	// AddProcess records a process-started notice for a caller.
	AddProcess(caller CallerInfo) error

	// Register validates and stores a new component, returning its scId.
	Register(caller CallerInfo, d *Descriptor, raw []byte) (int32, error)

	// Update replaces the descriptor of an existing component.
	Update(caller CallerInfo, scID int32, d *Descriptor, raw []byte) error

	// Unregister removes a component.
	Unregister(caller CallerInfo, scID int32) error

	// ReportClick verifies a click and grants the matching permission.
	ReportClick(caller CallerInfo, req ClickRequest) (ClickResult, error)

	// CompleteDialog resumes a click paused on the first-use dialog.
	CompleteDialog(resumeToken string, accepted bool) (ClickResult, error)

	// VerifySavePermission reports whether save permission is held.
	VerifySavePermission(tokenID uint32) bool

	// ReduceAfterVerifySavePermission consumes one save grant if held.
	ReduceAfterVerifySavePermission(tokenID uint32) bool

	// NotifyProcessForeground cancels a pending bulk revoke.
	NotifyProcessForeground(pid int32)

	// NotifyProcessBackground schedules a delayed bulk revoke.
	NotifyProcessBackground(pid int32)

	// NotifyProcessDied clears a dead process.
	NotifyProcessDied(pid int32, cached bool)

	// IsIdle reports whether no process has a live entity.
	IsIdle() bool

	// TrackedPIDs returns the pids present in the process table.
	TrackedPIDs() []int32

	// Snapshot returns a read-only view of the process table.
	Snapshot() []ProcessSnapshot

	// Dump renders diagnostic state.
	Dump() string

	// Shutdown revokes everything and stops accepting requests.
	Shutdown()
}
