package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dealbot/internal/config"
	"dealbot/internal/core"
	"dealbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: invalid config:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	defer func() { _ = logSvc.Close() }()
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	app, err := core.NewApp(mgr, logSvc, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		log.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch exited", logx.Err(err))
		}
	}()

	// Tell systemd we are up (no-op outside a Type=notify unit).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	app.Stop(stopCtx)
}
