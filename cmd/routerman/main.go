package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/talkincode/routerman/config"
	"github.com/talkincode/routerman/internal/adminapi"
	"github.com/talkincode/routerman/internal/app"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("c", "/etc/routerman.yml", "config file path")
	initDb     = flag.Bool("initdb", false, "drop and recreate database tables, then exit")
	showVer    = flag.Bool("v", false, "print version and exit")
)

var version = "dev"

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("routerman", version)
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application.StartBackgroundJobs(ctx)

	server := adminapi.NewServer(application)
	go func() {
		if err := server.Start(cfg.Web.Host, cfg.Web.Port); err != nil {
			zap.L().Error("admin api stopped", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	zap.L().Info("shutting down")
}
