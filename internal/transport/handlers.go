package transport

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/codec"
	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/monitoring"
)

// WindowUpdater receives window state pushed by the window manager.
type WindowUpdater interface {
	Set(windowID int32, info domain.WindowInfo)
	Remove(windowID int32)
}

// Handlers serves the component API.
type Handlers struct {
	manager    domain.ComponentManager
	windows    WindowUpdater
	metrics    *monitoring.Metrics
	audit      domain.AuditSink
	dialogWait time.Duration
	logger     *zap.Logger
}

// HandlersDeps holds handler collaborators. Windows, Metrics and Audit may be nil.
type HandlersDeps struct {
	Manager    domain.ComponentManager
	Windows    WindowUpdater
	Metrics    *monitoring.Metrics
	Audit      domain.AuditSink
	DialogWait time.Duration // Longest a click waits on ?wait=true
}

// NewHandlers creates the handlers.
func NewHandlers(deps HandlersDeps, logger *zap.Logger) *Handlers {
	if deps.DialogWait <= 0 {
		deps.DialogWait = time.Minute
	}
	return &Handlers{
		manager:    deps.Manager,
		windows:    deps.Windows,
		metrics:    deps.Metrics,
		audit:      deps.Audit,
		dialogWait: deps.DialogWait,
		logger:     logger,
	}
}

func (h *Handlers) record(op string, err error) {
	if h.metrics != nil {
		h.metrics.RecordOperation(op, err)
	}
}

func scIDParam(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "invalid id %q", c.Param("id")))
		return 0, false
	}
	return int32(id), true
}

// Register handles POST /v1/components.
func (h *Handlers) Register(c *gin.Context) {
	var req codec.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "bad request: %v", err))
		return
	}
	_, d, err := codec.DecodeRegister(req)
	if err != nil {
		h.record("register", err)
		abortWithError(c, err)
		return
	}

	scID, err := h.manager.Register(callerOf(c), d, req.Component)
	h.record("register", err)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, RegisterResponse{Response: newResponse(nil), ScID: scID})
}

// Update handles PUT /v1/components/:id.
func (h *Handlers) Update(c *gin.Context) {
	scID, ok := scIDParam(c)
	if !ok {
		return
	}
	var req codec.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "bad request: %v", err))
		return
	}
	d, err := codec.DecodeDescriptor(domain.UnknownComponent, req.Component)
	if err != nil {
		abortWithError(c, err)
		return
	}

	err = h.manager.Update(callerOf(c), scID, d, req.Component)
	h.record("update", err)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newResponse(nil))
}

// Unregister handles DELETE /v1/components/:id.
func (h *Handlers) Unregister(c *gin.Context) {
	scID, ok := scIDParam(c)
	if !ok {
		return
	}
	err := h.manager.Unregister(callerOf(c), scID)
	h.record("unregister", err)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newResponse(nil))
}

// dialogWaiter delivers a resumed click to a waiting request.
type dialogWaiter struct {
	ch   chan domain.ClickResult
	gone atomic.Bool
}

// ReportClick handles POST /v1/components/:id/click. With ?wait=true a
// click paused on the first-use dialog blocks until the dialog closes.
func (h *Handlers) ReportClick(c *gin.Context) {
	scID, ok := scIDParam(c)
	if !ok {
		return
	}
	var req codec.ClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "bad request: %v", err))
		return
	}
	d, err := codec.DecodeDescriptor(domain.UnknownComponent, req.Component)
	if err != nil {
		abortWithError(c, err)
		return
	}
	click, err := req.Click.ToClickEvent()
	if err != nil {
		abortWithError(c, err)
		return
	}

	caller := callerOf(c)
	wait := c.Query("wait") == "true"
	var waiter *dialogWaiter
	var cb domain.DialogCallback
	if wait {
		waiter = &dialogWaiter{ch: make(chan domain.ClickResult, 1)}
		cb = h.dialogCallback(caller, scID, waiter)
	}

	res, err := h.manager.ReportClick(caller, domain.ClickRequest{
		ScID:       scID,
		Descriptor: d,
		Raw:        req.Component,
		Click:      click,
		PreMessage: req.Message,
		Callback:   cb,
	})

	if err == nil && res.State == domain.ClickPendingDialog && waiter != nil {
		select {
		case res = <-waiter.ch:
		case <-c.Request.Context().Done():
			waiter.gone.Store(true)
			return
		case <-time.After(h.dialogWait):
			waiter.gone.Store(true)
		}
	}

	if h.metrics != nil {
		h.metrics.RecordClick(res.State)
	}
	h.writeClick(c, res, err)
}

func (h *Handlers) dialogCallback(caller domain.CallerInfo, scID int32, w *dialogWaiter) domain.DialogCallback {
	return func(res domain.ClickResult, err error) {
		if err != nil && res.Message == "" {
			res.Message = domain.MessageOf(err)
		}
		if w.gone.Load() {
			h.logger.Warn("click callback undeliverable", zap.Int32("pid", caller.PID), zap.Int32("sc_id", scID))
			if h.audit != nil {
				h.audit.Emit(domain.AuditEvent{
					Name:    domain.EventCallbackFailed,
					Kind:    domain.AuditFault,
					PID:     caller.PID,
					UID:     caller.UID,
					ScID:    scID,
					Message: "requester gone",
					Time:    time.Now(),
				})
			}
			return
		}
		select {
		case w.ch <- res:
		default:
		}
	}
}

func (h *Handlers) writeClick(c *gin.Context, res domain.ClickResult, err error) {
	resp := ClickResponse{Response: newResponse(err), State: res.State, ResumeToken: res.ResumeToken}
	if res.Message != "" {
		resp.Message = res.Message
	}
	c.JSON(statusFor(resp.Code), resp)
}

type completeDialogRequest struct {
	Accepted bool `json:"accepted"`
}

// CompleteDialog handles POST /v1/dialogs/:token.
func (h *Handlers) CompleteDialog(c *gin.Context) {
	var req completeDialogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "bad request: %v", err))
		return
	}
	res, err := h.manager.CompleteDialog(c.Param("token"), req.Accepted)
	h.writeClick(c, res, err)
}

// SavePermission handles GET /v1/permissions/save.
func (h *Handlers) SavePermission(c *gin.Context) {
	token := callerOf(c).TokenID
	var granted bool
	if c.Query("consume") == "true" {
		granted = h.manager.ReduceAfterVerifySavePermission(token)
	} else {
		granted = h.manager.VerifySavePermission(token)
	}
	c.JSON(http.StatusOK, gin.H{"code": domain.CodeOK, "granted": granted})
}

// ProcessStarted handles POST /v1/processes/self.
func (h *Handlers) ProcessStarted(c *gin.Context) {
	if err := h.manager.AddProcess(callerOf(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newResponse(nil))
}

// ProcessState handles POST /v1/processes/:pid/:state.
func (h *Handlers) ProcessState(c *gin.Context) {
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil || pid <= 0 {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "invalid pid %q", c.Param("pid")))
		return
	}

	switch c.Param("state") {
	case "foreground":
		h.manager.NotifyProcessForeground(int32(pid))
	case "background":
		h.manager.NotifyProcessBackground(int32(pid))
	case "died":
		h.manager.NotifyProcessDied(int32(pid), c.Query("cached") == "true")
	default:
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "unknown process state %q", c.Param("state")))
		return
	}
	c.JSON(http.StatusOK, newResponse(nil))
}

type windowRequest struct {
	ScaleX     float64     `json:"scale_x"`
	ScaleY     float64     `json:"scale_y"`
	Compatible bool        `json:"compatible"`
	Rect       domain.Rect `json:"rect"`
}

// SetWindow handles PUT /v1/windows/:id.
func (h *Handlers) SetWindow(c *gin.Context) {
	id, ok := scIDParam(c)
	if !ok {
		return
	}
	if h.windows == nil {
		abortWithError(c, domain.Errorf(domain.ErrServiceNotExist, "window updates disabled"))
		return
	}
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "bad request: %v", err))
		return
	}
	if req.ScaleX <= 0 || req.ScaleY <= 0 {
		abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "window scale must be positive"))
		return
	}
	h.windows.Set(id, domain.WindowInfo{ScaleX: req.ScaleX, ScaleY: req.ScaleY, Compatible: req.Compatible, Rect: req.Rect})
	c.JSON(http.StatusOK, newResponse(nil))
}

// RemoveWindow handles DELETE /v1/windows/:id.
func (h *Handlers) RemoveWindow(c *gin.Context) {
	id, ok := scIDParam(c)
	if !ok {
		return
	}
	if h.windows != nil {
		h.windows.Remove(id)
	}
	c.JSON(http.StatusOK, newResponse(nil))
}

// Dump handles GET /v1/dump.
func (h *Handlers) Dump(c *gin.Context) {
	c.String(http.StatusOK, h.manager.Dump())
}

// Health handles GET /healthz.
func (h *Handlers) Health(c *gin.Context) {
	status := "ok"
	if ex, ok := h.manager.(interface{ Exiting() bool }); ok && ex.Exiting() {
		status = "exiting"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "idle": h.manager.IsIdle()})
}
