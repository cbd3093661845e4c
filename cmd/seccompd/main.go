// Package main is the CLI entry point for seccompd.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/codec"
	"github.com/eliteGoblin/focusd/sec_comp/internal/config"
	"github.com/eliteGoblin/focusd/sec_comp/internal/daemon"
	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
	"github.com/eliteGoblin/focusd/sec_comp/internal/logging"
	"github.com/eliteGoblin/focusd/sec_comp/internal/policy"
	"github.com/eliteGoblin/focusd/sec_comp/internal/validator"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seccompd",
	Short: "Security component trust service",
	Long: `seccompd decides whether a click on a location, paste or save button
was a genuine user action on a genuine, unobscured control, and grants the
matching permission to the app for a short time.`,
	Version:      Version,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the service in the foreground",
	Long: `Runs the component registry and serves the local API on a unix socket.
The service exits on SIGINT/SIGTERM or once no component has been
registered for the idle exit delay.`,
	RunE: runServe,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service in the background",
	RunE:  runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check service status",
	RunE:  runStatus,
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a component descriptor file",
	Long: `Validates a descriptor document of the form {"type": "...", "component": {...}}
against the configured displays, without a running service.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	logFile    string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of the configured output")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	validateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the validation result as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadLayout loads the config and resolves the runtime layout it selects.
func loadLayout() (*config.Config, *infra.ExecModeConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	mode, ok := infra.ParseExecMode(cfg.Service.Mode)
	if !ok {
		return nil, nil, fmt.Errorf("unknown service mode %q", cfg.Service.Mode)
	}
	if cfg.Service.DataDir != "" {
		mode.DataDir = cfg.Service.DataDir
	}
	if cfg.Transport.Socket != "" {
		mode.SocketPath = cfg.Transport.Socket
		mode.RuntimeDir = filepath.Dir(cfg.Transport.Socket)
		mode.PidFile = filepath.Join(mode.RuntimeDir, infra.ServiceName+".pid")
	}
	return cfg, mode, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, mode, err := loadLayout()
	if err != nil {
		return err
	}
	if err := mode.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create service directories: %w", err)
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}

	logger := logging.NewOrFallback(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	guard := daemon.NewInstanceGuard(mode.PidFile, logger)
	if err := guard.Acquire(); err != nil {
		return err
	}
	defer guard.Release()

	svc, err := newService(cfg, mode, logger)
	if err != nil {
		logger.Error("failed to start service", zap.Error(err))
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("seccompd starting",
		zap.String("version", Version),
		zap.String("mode", string(mode.Mode)),
		zap.String("socket", mode.SocketPath))

	return svc.Run(ctx)
}

func runStart(cmd *cobra.Command, args []string) error {
	_, mode, err := loadLayout()
	if err != nil {
		return err
	}

	if pid, alive := daemon.RunningPID(mode.PidFile, infra.NewProcessManager()); alive {
		fmt.Printf("seccompd is already running (pid %d)\n", pid)
		return nil
	}

	if err := mode.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create service directories: %w", err)
	}
	args = []string{"--log-file", filepath.Join(mode.LogDir, infra.ServiceName+".log")}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		args = append(args, "--config", abs)
	}

	pid, err := daemon.StartDaemon("", args...)
	if err != nil {
		return err
	}
	if err := daemon.WaitForSocket(cmd.Context(), mode.SocketPath, 5*time.Second); err != nil {
		return fmt.Errorf("seccompd (pid %d) did not come up: %w", pid, err)
	}

	fmt.Println("\n=== seccompd Started ===")
	fmt.Printf("Mode: %s\n", mode.Mode)
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Socket: %s\n", mode.SocketPath)
	fmt.Printf("Logs: %s\n", mode.LogDir)
	fmt.Println("========================")
	return nil
}

// statusReport is the output of the status command.
type statusReport struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Mode    string `json:"mode"`
	Socket  string `json:"socket"`
	Health  string `json:"health,omitempty"`
	Idle    bool   `json:"idle"`
}

func queryHealth(ctx context.Context, socket string) (string, bool, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
		Timeout: 2 * time.Second,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://seccompd/healthz", nil)
	if err != nil {
		return "", false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		Idle   bool   `json:"idle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, err
	}
	return body.Status, body.Idle, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, mode, err := loadLayout()
	if err != nil {
		return err
	}

	report := statusReport{Mode: string(mode.Mode), Socket: mode.SocketPath}
	report.PID, report.Running = daemon.RunningPID(mode.PidFile, infra.NewProcessManager())
	if report.Running {
		health, idle, err := queryHealth(cmd.Context(), mode.SocketPath)
		if err != nil {
			health = "unreachable: " + err.Error()
		}
		report.Health, report.Idle = health, idle
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Println("\n=== seccompd Status ===")
	if !report.Running {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'seccompd start' to start the service.")
	} else {
		fmt.Printf("Status: RUNNING (pid %d)\n", report.PID)
		fmt.Printf("Health: %s\n", report.Health)
		fmt.Printf("Idle: %t\n", report.Idle)
	}
	fmt.Printf("Mode: %s\n", mode.Mode)
	fmt.Printf("Socket: %s\n", mode.SocketPath)
	fmt.Println("=======================")
	return nil
}

var errDescriptorInvalid = errors.New("descriptor is invalid")

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadLayout()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	d, err := codec.DecodeFile(data)
	if err != nil {
		return err
	}
	screen, err := infra.NewStaticDisplayProvider(cfg.Display.Displays).ScreenInfo(d.DisplayID, d.CrossAxis)
	if err != nil {
		return err
	}

	res := newValidator(cfg, policy.NewRegistry(), zap.NewNop()).Validate(d, validator.Env{
		Screen:            screen,
		AllowNoBackground: cfg.Service.AllowNoBackground,
	})
	return printValidation(d.Type.String(), res)
}

func printValidation(kind string, res validator.Result) error {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(res)
	} else if res.Valid {
		fmt.Printf("%s component: valid\n", kind)
		if res.TooLarge {
			fmt.Println("  warning: component covers a large share of the screen")
		}
	} else {
		fmt.Printf("%s component: invalid: %s\n", kind, res.Message)
		if res.Bypassable {
			fmt.Println("  (a customize-authorized caller may bypass this check)")
		}
	}
	if !res.Valid {
		return errDescriptorInvalid
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("seccompd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
