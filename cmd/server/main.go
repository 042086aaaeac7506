package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/bothost/internal/controlplane/server"
	"github.com/betbot/bothost/internal/installer"
	"github.com/betbot/bothost/internal/logstream"
	"github.com/betbot/bothost/internal/metrics"
	"github.com/betbot/bothost/internal/registry"
	"github.com/betbot/bothost/internal/supervisor"
	"github.com/betbot/bothost/internal/upload"
	"github.com/betbot/bothost/pkg/config"
	"github.com/betbot/bothost/pkg/logger"
	"github.com/betbot/bothost/pkg/shutdown"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	var (
		configPath = flag.String("config", getenv(config.EnvPrefix+"CONFIG", ""), "config file (.yaml/.yml/.json)")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
		dataDir    = flag.String("data-dir", "", "base data directory (overrides config)")
		logLevel   = flag.String("log-level", "", "debug|info|warn|error (overrides config)")
	)
	flag.Parse()

	// data-dir 走环境变量，派生目录（bots/uploads/logs/registry）才会跟着变
	if *dataDir != "" {
		_ = os.Setenv(config.EnvPrefix+"DATA_DIR", *dataDir)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Errorf("bothost exited: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.BotsDir, cfg.UploadsDir, cfg.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	sm := shutdown.NewManager()

	if cfg.DebugListen != "" {
		debugCtx, cancelDebug := context.WithCancel(context.Background())
		if _, err := metrics.StartAsync(debugCtx, cfg.DebugListen); err != nil {
			cancelDebug()
			return fmt.Errorf("start debug server: %w", err)
		}
		logger.Infof("debug server listening on %s", cfg.DebugListen)
		sm.OnShutdown("debug-server", func(context.Context) error { cancelDebug(); return nil })
	}

	reg, err := registry.Open(cfg.Registry)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	sm.OnShutdown("registry", func(context.Context) error { return reg.Close() })

	archive := logstream.NewFileArchive(cfg.LogsDir, cfg.BotLog.MaxSizeMB, cfg.BotLog.MaxBackups)
	sm.OnShutdown("bot-log-archive", func(context.Context) error { return archive.Close() })

	hub := logstream.NewHub(nil)
	sup := supervisor.New(reg, logstream.Tee(hub, archive), supervisor.Options{
		Command:           cfg.Runtime.Command,
		Args:              cfg.Runtime.Args,
		Env:               cfg.Runtime.Env,
		LogCapacity:       cfg.Runtime.LogCapacity,
		CrashRestartDelay: cfg.Runtime.CrashRestartDelay,
		StopGracePeriod:   cfg.Runtime.StopGracePeriod,
		RestartSettle:     cfg.Runtime.RestartSettle,
	})
	hub.SetBacklog(sup.GetLogs)

	var hook installer.Hook = installer.Noop{}
	if cfg.Runtime.NpmInstall {
		hook = installer.NpmInstaller{Timeout: cfg.Runtime.InstallTimeout}
	}
	pipeline := upload.New(reg, hook, upload.Options{
		BotsDir:    cfg.BotsDir,
		UploadsDir: cfg.UploadsDir,
		MaxBytes:   cfg.MaxUploadBytes(),
	})

	srv, err := server.New(server.Config{MaxUploadBytes: cfg.MaxUploadBytes()}, server.Deps{
		Registry:   reg,
		Supervisor: sup,
		Uploader:   pipeline,
		Hub:        hub,
		History:    archive,
	})
	if err != nil {
		_ = sm.Shutdown(context.Background())
		return fmt.Errorf("init server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("bothost listening on %s (registry=%s %s)", cfg.Listen, cfg.Registry.Driver, cfg.Registry.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sm.OnShutdown("http", httpSrv.Shutdown)

	// 最后注册，最先执行：先停掉所有 bot，保留持久化状态供下次启动恢复
	sm.OnShutdown("supervisor", sup.StopAll)

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 2*time.Minute)
	n, err := sup.RestoreOnStartup(restoreCtx)
	cancelRestore()
	if err != nil {
		logger.Warnf("restore bots on startup: %v", err)
	}
	logger.Infof("restored %d bot(s)", n)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	var runErr error
	select {
	case sig := <-stopCh:
		logger.Infof("received %s, shutting down", sig)
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.StopGracePeriod+15*time.Second)
	defer cancel()
	if err := sm.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	logger.Info("server stopped")
	return runErr
}
