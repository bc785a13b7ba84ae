// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"aegis/platform/config"
	"aegis/platform/constitution"
	"aegis/platform/directory"
	"aegis/platform/dispatch"
	"aegis/platform/router"
	"aegis/platform/service"
	"aegis/platform/shared/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	mainLog := logger.New("aegisd")

	// Policy snapshot store with initial load. A failed first load starts
	// the daemon in degraded mode with an empty policy set rather than
	// refusing to come up.
	loader := &constitution.FilePolicyLoader{Path: cfg.Policy.File}
	snapshots := constitution.NewSnapshotStore(nil)
	if err := snapshots.Refresh(loader); err != nil {
		mainLog.ErrorWithErr("", "initial policy load failed, starting degraded", err, map[string]interface{}{
			"policy_file": cfg.Policy.File,
		})
	}

	stop := make(chan struct{})
	if cfg.Policy.RefreshInterval > 0 {
		go snapshots.RefreshEvery(cfg.Policy.RefreshInterval, loader, stop)
	}

	waivers := constitution.NewWaiverManager(cfg.Waivers.DefaultTTL)
	engine := constitution.NewEngine(engineConfig(cfg), snapshots, waivers)

	capRouter := router.New(routerConfig(cfg))
	registry := directory.NewRegistry()

	var loadSource *directory.RedisLoadSource
	if cfg.Redis.URL != "" {
		loadSource, err = directory.NewRedisLoadSource(cfg.Redis.URL)
		if err != nil {
			mainLog.ErrorWithErr("", "redis load source unavailable, using registry values", err, nil)
			loadSource = nil
		} else {
			defer loadSource.Close()
		}
	}

	dispatcher := dispatch.New(cfg.Dispatch.QueueSize, cfg.Dispatch.Workers, cfg.Dispatch.Timeout, nil, nil)
	defer dispatcher.Close()

	server := service.NewServer(cfg.Server.ListenAddr, service.Options{
		Engine:     engine,
		Router:     capRouter,
		Registry:   registry,
		LoadSource: loadSource,
		Dispatcher: dispatcher,
		JWTSecret:  cfg.Server.JWTSecret,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLog.Info("", "shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		mainLog.ErrorWithErr("", "http server stopped", err, nil)
	}

	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		mainLog.ErrorWithErr("", "graceful shutdown failed", err, nil)
	}
}

// engineConfig maps the file configuration onto the policy engine tunables,
// leaving defaults for anything unset.
func engineConfig(cfg *config.Config) constitution.EngineConfig {
	ec := constitution.DefaultEngineConfig()
	if cfg.Policy.BlockingThreshold != "" {
		ec.BlockingThreshold = constitution.Severity(cfg.Policy.BlockingThreshold)
	}
	for name, weight := range cfg.Policy.SeverityWeights {
		ec.SeverityWeights[constitution.Severity(name)] = weight
	}
	return ec
}

// routerConfig maps the file configuration onto the bandit tunables,
// leaving defaults for anything unset.
func routerConfig(cfg *config.Config) router.Config {
	rc := router.DefaultConfig()
	r := cfg.Router
	if r.InitialEpsilon > 0 {
		rc.Epsilon0 = r.InitialEpsilon
	}
	if r.MinEpsilon > 0 {
		rc.EpsilonMin = r.MinEpsilon
	}
	if r.EpsilonDecayRate > 0 {
		rc.EpsilonDecayRate = r.EpsilonDecayRate
	}
	if r.DecayInterval > 0 {
		rc.EpsilonDecayEvery = int64(r.DecayInterval)
	}
	if r.UCBConstant > 0 {
		rc.UCBConstant = r.UCBConstant
	}
	if r.EMAAlpha > 0 {
		rc.EMAAlpha = r.EMAAlpha
	}
	if r.MinSampleCount > 0 {
		rc.MinSampleCount = int64(r.MinSampleCount)
	}
	if r.CapabilityWeight > 0 {
		rc.CapabilityWeight = r.CapabilityWeight
	}
	if r.PerformanceWeight > 0 {
		rc.PerformanceWeight = r.PerformanceWeight
	}
	if r.LoadPenaltyWeight > 0 {
		rc.LoadWeight = r.LoadPenaltyWeight
	}
	if r.TaskTypeWeight > 0 {
		rc.TaskTypeWeight = r.TaskTypeWeight
	}
	if r.LanguageWeight > 0 {
		rc.LanguageWeight = r.LanguageWeight
	}
	if r.SpecializationWeight > 0 {
		rc.SpecializationWeight = r.SpecializationWeight
	}
	return rc
}
