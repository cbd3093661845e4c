package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/config"
	"github.com/eliteGoblin/focusd/sec_comp/internal/daemon"
	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
	"github.com/eliteGoblin/focusd/sec_comp/internal/monitoring"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
	"github.com/eliteGoblin/focusd/sec_comp/internal/transport"
	"github.com/eliteGoblin/focusd/sec_comp/internal/usecase"
	"github.com/eliteGoblin/focusd/sec_comp/internal/validator"
)

const dialogTimeout = 30 * time.Second

// service is the fully wired seccompd instance.
type service struct {
	manager   *usecase.ManagerImpl
	server    *transport.Server
	monitor   *daemon.ProcessMonitor
	scheduler *infra.TimerScheduler
	auditFile *infra.ZapAuditSink
	consent   domain.ConsentStore
	logger    *zap.Logger
}

func newValidator(cfg *config.Config, policies *policy.Registry, logger *zap.Logger) *validator.Validator {
	vcfg := validator.Config{
		AbsoluteTolerance: cfg.Validation.AbsoluteTolerance,
		PercentTolerance:  cfg.Validation.PercentTolerance,
		TooLargeRatio:     cfg.Validation.TooLargeRatio,
	}
	for _, c := range cfg.Validation.BackgroundAllow {
		vcfg.BackgroundAllow = append(vcfg.BackgroundAllow, domain.Color(c))
	}
	return validator.New(vcfg, policies, logger)
}

func newDialogLauncher(cfg *config.Config, logger *zap.Logger) (domain.DialogLauncher, error) {
	if cfg.Consent.DialogCommand == "" {
		return infra.LogDialogLauncher{Logger: logger}, nil
	}
	return infra.NewCommandDialogLauncher(strings.Fields(cfg.Consent.DialogCommand), dialogTimeout, logger)
}

// newService wires every component. Close releases what it opened.
func newService(cfg *config.Config, mode *infra.ExecModeConfig, logger *zap.Logger) (*service, error) {
	s := &service{logger: logger}

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics()
	}

	sinks := infra.MultiAuditSink{infra.LogAuditSink{Logger: logger}}
	if cfg.Audit.File != "" {
		acfg := infra.DefaultAuditConfig(cfg.Audit.File)
		acfg.Buffer = cfg.Audit.Buffer
		s.auditFile = infra.NewZapAuditSink(acfg, logger)
		sinks = append(sinks, s.auditFile)
	}
	var audit domain.AuditSink = sinks
	if metrics != nil {
		audit = monitoring.AuditCounter{Metrics: metrics, Next: sinks}
	}

	consent, err := infra.OpenConsentStore(mode.DataDir, cfg.Consent.Encrypt)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open consent store: %w", err)
	}
	s.consent = consent

	launcher, err := newDialogLauncher(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.scheduler = infra.NewTimerScheduler(logger)
	procs := infra.NewProcessManager()
	policies := policy.NewRegistry()
	windows := infra.NewWindowStore()

	permissions := usecase.NewPermissionManager(usecase.PermissionConfig{
		SaveRevokeDelay:       cfg.Timing.SaveRevokeDelay,
		BackgroundRevokeDelay: cfg.Timing.BackgroundRevokeDelay,
	}, infra.NewMemoryPermissionKit(cfg.Service.DLPTokens, logger), s.scheduler, policies, audit, logger)

	consentMgr := usecase.NewConsentManager(usecase.ConsentConfig{
		PersistDelay: cfg.Consent.PersistDelay,
		DialogTTL:    cfg.Consent.DialogTTL,
	}, consent, launcher, s.scheduler, logger)
	if err := consentMgr.Load(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load consent records: %w", err)
	}

	s.manager = usecase.NewManager(usecase.ManagerConfig{
		MaxComponentsPerProcess: cfg.Service.MaxComponentsPerProcess,
		ScIDStart:               usecase.DefaultManagerConfig().ScIDStart,
		IdleExitDelay:           cfg.Timing.IdleExitDelay,
		AllowNoBackground:       cfg.Service.AllowNoBackground,
	}, usecase.ManagerDeps{
		Policies:  policies,
		Validator: newValidator(cfg, policies, logger),
		Verifier: usecase.NewClickVerifier(usecase.VerifierConfig{
			TouchWindow:    cfg.Timing.TouchWindow,
			TouchTolerance: cfg.Validation.TouchTolerance,
		}, nil),
		Permissions: permissions,
		Consent:     consentMgr,
		Malicious:   usecase.NewMaliciousTracker(),
		Display:     infra.NewStaticDisplayProvider(cfg.Display.Displays),
		Windows:     windows,
		Audit:       audit,
		Scheduler:   s.scheduler,
	}, logger)

	var reaped prometheus.Counter
	if metrics != nil {
		metrics.Registry().MustRegister(monitoring.NewRegistryCollector(s.manager))
		reaped = metrics.ReapedPIDs
	}
	s.monitor = daemon.NewProcessMonitor(daemon.MonitorConfig{
		ReapInterval:    cfg.Timing.ProcessPollInterval,
		SummaryInterval: daemon.DefaultMonitorConfig().SummaryInterval,
	}, s.manager, procs, reaped, logger)

	resolver := infra.NewPeerIdentityResolver(infra.IdentityConfig{
		SystemUIDs:         cfg.Identity.SystemUIDs,
		CustomizeSaveUIDs:  cfg.Identity.CustomizeSaveUIDs,
		RequireLiveProcess: cfg.Identity.RequireLiveProcess,
	}, procs, logger)

	handlers := transport.NewHandlers(transport.HandlersDeps{
		Manager:    s.manager,
		Windows:    windows,
		Metrics:    metrics,
		Audit:      audit,
		DialogWait: cfg.Consent.DialogTTL,
	}, logger)

	opts := transport.RouterOptions{
		Resolver:    resolver,
		Metrics:     metrics,
		MetricsPath: cfg.Metrics.Path,
		Development: cfg.Logging.Development,
	}
	if cfg.Transport.RateLimit {
		rl := transport.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.Transport.RateLimitRPS
		rl.Burst = cfg.Transport.RateLimitBurst
		opts.RateLimit = &rl
	}
	s.server = transport.NewServer(mode.SocketPath, transport.NewRouter(handlers, opts, logger), logger)

	return s, nil
}

// Run serves until ctx is canceled or the registry exits idle.
func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.manager.SetExitHandler(func() {
		s.logger.Info("idle exit")
		cancel()
	})

	ln, err := s.server.Listen()
	if err != nil {
		return err
	}
	s.manager.StartIdleExit()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		_ = s.monitor.Run(ctx)
	}()

	err = s.server.Serve(ctx, ln)
	cancel()
	<-monitorDone
	return err
}

// Close shuts the registry down and releases stores and writers.
func (s *service) Close() {
	if s.manager != nil {
		s.manager.Shutdown()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.consent != nil {
		if err := s.consent.Close(); err != nil {
			s.logger.Warn("failed to close consent store", zap.Error(err))
		}
	}
	if s.auditFile != nil {
		if err := s.auditFile.Close(); err != nil {
			s.logger.Warn("failed to close audit log", zap.Error(err))
		}
	}
}
