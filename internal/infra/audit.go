package infra

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/logging"
)

// AuditConfig configures the audit log.
type AuditConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Buffer     int
}

// DefaultAuditConfig returns default audit configuration for path.
func DefaultAuditConfig(path string) AuditConfig {
	return AuditConfig{
		Path:       path,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Buffer:     1024,
	}
}

// ZapAuditSink writes audit events as JSON lines to a rotating file.
// Emit enqueues and returns; a full queue drops the event.
type ZapAuditSink struct {
	out     *zap.Logger
	logger  *zap.Logger
	events  chan domain.AuditEvent
	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

var _ domain.AuditSink = (*ZapAuditSink)(nil)

// NewZapAuditSink creates the sink and starts its writer.
func NewZapAuditSink(cfg AuditConfig, logger *zap.Logger) *ZapAuditSink {
	w := logging.RotatingWriter(cfg.Path, logging.Config{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   true,
	})
	return newZapAuditSink(w, cfg.Buffer, logger)
}

func newZapAuditSink(w zapcore.WriteSyncer, buffer int, logger *zap.Logger) *ZapAuditSink {
	if buffer <= 0 {
		buffer = 1
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(logging.EncoderConfig()), w, zapcore.InfoLevel)
	s := &ZapAuditSink{
		out:    zap.New(core),
		logger: logger,
		events: make(chan domain.AuditEvent, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit queues an event.
func (s *ZapAuditSink) Emit(event domain.AuditEvent) {
	defer func() {
		// Emit after Close
		if recover() != nil {
			s.dropped.Add(1)
		}
	}()
	select {
	case s.events <- event:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("audit queue full, dropping events")
		}
	}
}

// Dropped returns the number of events lost to a full queue.
func (s *ZapAuditSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close drains queued events and flushes the file.
func (s *ZapAuditSink) Close() error {
	s.once.Do(func() { close(s.events) })
	<-s.done
	return s.out.Sync()
}

func (s *ZapAuditSink) run() {
	defer close(s.done)
	for ev := range s.events {
		s.out.Info(ev.Name,
			zap.String("kind", string(ev.Kind)),
			zap.Int32("pid", ev.PID),
			zap.Int32("uid", ev.UID),
			zap.Int32("scId", ev.ScID),
			zap.String("type", ev.Type.String()),
			zap.String("scene", ev.Scene),
			zap.String("reason", ev.Reason),
			zap.String("message", ev.Message),
			zap.Time("eventTime", ev.Time),
		)
	}
}

// MultiAuditSink fans events out to several sinks.
type MultiAuditSink []domain.AuditSink

// Emit forwards to every non-nil sink.
func (m MultiAuditSink) Emit(event domain.AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(event)
		}
	}
}

// LogAuditSink mirrors audit events into the service log.
type LogAuditSink struct {
	Logger *zap.Logger
}

// Emit logs security and fault events at warn, behavior at debug.
func (l LogAuditSink) Emit(event domain.AuditEvent) {
	fields := []zap.Field{
		zap.String("event", event.Name),
		zap.Int32("pid", event.PID),
		zap.Int32("scId", event.ScID),
		zap.String("reason", event.Reason),
	}
	if event.Kind == domain.AuditBehavior {
		l.Logger.Debug("audit", fields...)
		return
	}
	l.Logger.Warn("audit", fields...)
}
