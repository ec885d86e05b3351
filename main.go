package main

import (
	"fmt"
	"os"

	"github.com/tphakala/hotword-go/cmd"
	"github.com/tphakala/hotword-go/internal/buildinfo"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/logger"
	"github.com/tphakala/hotword-go/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	central, err := logger.NewCentralLogger(&settings.Main.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	logger.SetGlobal(central)
	defer func() { _ = central.Close() }()
	log := central.Module("main")

	flush, err := telemetry.Init(&settings.Telemetry.Sentry, telemetry.Options{Build: buildinfo.Current()})
	if err != nil {
		log.Warn("Error telemetry disabled", logger.Error(err))
		flush = func() {}
	}
	defer flush()

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		log.Error("Command failed", logger.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
