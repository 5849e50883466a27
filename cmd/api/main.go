package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/justadm/justgpt-control-plane/internal/docker"
	"github.com/justadm/justgpt-control-plane/internal/httpx"
	"github.com/justadm/justgpt-control-plane/internal/registry"
	"github.com/justadm/justgpt-control-plane/internal/service/compose"
	"github.com/justadm/justgpt-control-plane/internal/service/credential"
	"github.com/justadm/justgpt-control-plane/internal/service/generate"
	"github.com/justadm/justgpt-control-plane/internal/service/ingress"
	"github.com/justadm/justgpt-control-plane/internal/service/provision"
	"github.com/justadm/justgpt-control-plane/internal/service/source"
	"github.com/justadm/justgpt-control-plane/pkg/config"
	"github.com/justadm/justgpt-control-plane/pkg/logger"
)

func main() {
	cfg := config.LoadControlPlaneConfig()
	log := logger.New("control-plane", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockerCli, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Warn("docker client unavailable", "error", err)
		dockerCli = nil
	} else {
		defer dockerCli.Close()
	}

	store := registry.New(cfg.RegistryPath, log)
	resolver := source.New(cfg.DataDir, cfg.SourceFetchTimeout, log)
	generator := generate.New(cfg.GeneratorDir, cfg.GeneratorCommand, log)
	credentials := credential.New(cfg.EnvFilePath, log)
	containers := compose.New(cfg.ComposeCommand, cfg.InternalServicePort, log)

	var reloader ingress.Reloader
	if name := strings.TrimSpace(cfg.NginxContainerName); name != "" && dockerCli != nil {
		reloader, err = ingress.NewDockerReloader(dockerCli, name)
		if err != nil {
			log.Error("failed to configure docker reloader", "error", err)
			os.Exit(1)
		}
	} else {
		reloader = ingress.NewExecReloader(cfg.NginxReloadCmd)
	}
	ingressSvc := ingress.New(cfg.NginxConfPath, cfg.NginxServerName, cfg.NginxValidateCmd, reloader, log)
	defer ingressSvc.Close()

	provisioner := provision.New(store, resolver, generator, credentials, containers, ingressSvc, cfg.AgentToken, log)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	var dockerPing func(context.Context) error
	if dockerCli != nil {
		dockerPing = dockerCli.Ping
	}
	router := httpx.NewRouter(log, store, provisioner, limiter, cfg.AdminToken, dockerPing)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("control plane starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("control plane stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
