package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vesselrun/vessel/lib/config"
	"github.com/vesselrun/vessel/lib/containers"
	"github.com/vesselrun/vessel/lib/images"
	"github.com/vesselrun/vessel/lib/lifecycle"
	"github.com/vesselrun/vessel/lib/paths"
	"github.com/vesselrun/vessel/lib/registry"
	"github.com/vesselrun/vessel/lib/runner"
)

// app holds the wired components behind the CLI commands.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	images     images.Manager
	imageStore *images.Store
	builder    *containers.Builder
	runner     *runner.Runner
	lifecycle  *lifecycle.Manager
}

func newApp() *app {
	cfg := config.Load()

	// Logs go to stderr so stdout stays clean for listings and ids.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	p := paths.New(cfg.DataDir)
	imageStore := images.NewStore(p)
	containerStore := containers.NewStore(p)

	client := registry.NewClient(registry.ClientConfig{
		RegistryURL: cfg.RegistryURL,
		AuthURL:     cfg.AuthURL,
		AuthService: cfg.AuthService,
		OS:          cfg.PlatformOS,
		Arch:        cfg.PlatformArch,
	}, logger)

	return &app{
		cfg:        cfg,
		log:        logger,
		images:     images.NewManager(client, imageStore, p, logger),
		imageStore: imageStore,
		builder:    containers.NewBuilder(imageStore, p, logger),
		runner:     runner.New(containerStore, logger),
		lifecycle:  lifecycle.New(imageStore, containerStore, logger),
	}
}

func main() {
	a := newApp()
	if err := a.rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
