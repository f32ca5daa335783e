// Command azsecretd runs the azsecret daemon: it loads configuration,
// wires the Backend/Envelope/Key Service/Vault/Authorizer collaborators
// into a Store, and serves the request dispatcher off a Unix domain
// socket until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/Azure/azsecret/internal/authz"
	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/backend/boltkv"
	"github.com/Azure/azsecret/internal/backend/relational"
	"github.com/Azure/azsecret/internal/config"
	"github.com/Azure/azsecret/internal/dispatcher"
	"github.com/Azure/azsecret/internal/envelope"
	"github.com/Azure/azsecret/internal/keyservice"
	"github.com/Azure/azsecret/internal/metrics"
	"github.com/Azure/azsecret/internal/store"
	"github.com/Azure/azsecret/internal/vault"
	"github.com/Azure/azsecret/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults to CONFIG_FILE env or configs/azsecret.yaml)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		cfg, err = config.LoadFile(trimmed)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})

	be, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("open backend: %v", err)
	}
	defer be.Close()

	keys, err := openKeyService(cfg)
	if err != nil {
		log.Fatalf("open key service: %v", err)
	}

	env := envelope.New(keys)
	policy := authz.NewPolicy(cfg.Rules())

	var vaultOpts []vault.Option
	if cred, err := azidentity.NewDefaultAzureCredential(nil); err != nil {
		log.WithField("error", err).Warn("azure default credential unavailable, falling back to caller-supplied vault tokens only")
	} else {
		vaultOpts = append(vaultOpts, vault.WithCredential(cred, cfg.Vault.Scope))
	}
	vaultClient := vault.NewAzureKeyVault(time.Duration(cfg.Vault.TimeoutMS)*time.Millisecond, vaultOpts...)

	st := store.New(be, env, policy, vaultClient, store.WithMaxSecretBytes(cfg.MaxSecretBytes))
	resolver := dispatcher.NewPrincipalResolver(cfg.PrincipalMap)

	d := dispatcher.New(
		st,
		resolver,
		log,
		cfg.SocketPath,
		time.Duration(cfg.RequestTimeoutMS)*time.Millisecond,
		cfg.MaxInflight,
		cfg.MaxSecretBytes,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
		go func() {
			log.WithField("metrics_addr", cfg.MetricsAddr).Info("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithField("error", err).Error("metrics listener exited")
			}
		}()
	}

	log.WithField("socket_path", cfg.SocketPath).Info("azsecretd listening")
	if err := d.ListenAndServe(ctx); err != nil {
		log.Fatalf("dispatcher exited: %v", err)
	}
}

func openBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case backend.KindRelational:
		return relational.Open(cfg.Backend.DSN)
	default:
		return boltkv.Open(filepath.Clean(cfg.Backend.Path))
	}
}

func openKeyService(cfg *config.Config) (keyservice.Client, error) {
	if cfg.KeyService.Endpoint == "" {
		return keyservice.NewLocalSimulator(nil)
	}
	timeout := time.Duration(cfg.KeyService.TimeoutMS) * time.Millisecond
	return keyservice.NewHTTPClient(cfg.KeyService.Endpoint, timeout), nil
}
