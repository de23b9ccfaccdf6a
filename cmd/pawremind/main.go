package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pawremind/internal/app"
	logx "pawremind/pkg/logx"
	"pawremind/pkg/systemd"
)

const stopTimeout = 15 * time.Second

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&envPath, "env", "", "optional .env file with ${VAR} secrets")
	flag.Parse()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Println("fatal env:", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	log := a.Logger().With(logx.String("comp", "main"))
	systemd.Ready(log)
	go systemd.Watchdog(ctx, log, func() bool {
		select {
		case <-a.Done():
			return false
		default:
			return true
		}
	})

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if ctx.Err() == nil {
			reason = app.StopFatalError
		}
	}
	systemd.Stopping(log)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Println("stop:", err)
	}
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
		}
		os.Exit(1)
	}
}
