package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PlusaN/keycloak-provider/internal/assertion"
	"github.com/PlusaN/keycloak-provider/internal/config"
	"github.com/PlusaN/keycloak-provider/internal/flow"
	"github.com/PlusaN/keycloak-provider/internal/http/controllers/flowctrl"
	"github.com/PlusaN/keycloak-provider/internal/http/router"
	"github.com/PlusaN/keycloak-provider/internal/metrics"
	"github.com/PlusaN/keycloak-provider/internal/observability/logger"
	"github.com/PlusaN/keycloak-provider/internal/privacyidea"
	"github.com/PlusaN/keycloak-provider/internal/session"
)

var version = "dev"

func main() {
	configPath := envOr("CONFIG_PATH", "config.yaml")

	root := &cobra.Command{
		Use:           "provider",
		Short:         "Second-factor bridge between a login flow and privacyIDEA",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Path al archivo de configuración YAML (env CONFIG_PATH)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP del flujo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Valida la configuración y termina",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	root.AddCommand(serveCmd, checkCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func serve(configPath string) error {
	// .env es opcional; en producción la config llega por archivo + env.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       envOr("LOG_LEVEL", "info"),
		ServiceName: "keycloak-provider",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	sessions, err := session.New(session.Config{
		Kind:     cfg.Session.Kind,
		TTL:      cfg.SessionTTL(),
		Addr:     cfg.Session.Redis.Addr,
		Password: cfg.Session.Redis.Password,
		DB:       cfg.Session.Redis.DB,
		Prefix:   cfg.Session.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() { _ = sessions.Close() }()

	client, err := privacyidea.New(privacyidea.Options{
		ServerURL:       cfg.PrivacyIDEA.URL,
		SSLVerify:       cfg.SSLVerifyEnabled(),
		Realm:           cfg.PrivacyIDEA.Realm,
		ServiceUsername: cfg.PrivacyIDEA.ServiceAccount.Username,
		ServicePassword: cfg.PrivacyIDEA.ServiceAccount.Password,
		LogEnabled:      cfg.Flow.LogEnabled,
	})
	if err != nil {
		return fmt.Errorf("privacyidea client: %w", err)
	}

	flowCtrl := flow.NewController(flow.Deps{
		Client:             client,
		Sessions:           sessions,
		Schedule:           cfg.PollingSchedule(),
		ExcludedGroups:     cfg.Flow.ExcludedGroups,
		TriggerChallenge:   cfg.Flow.TriggerChallenge,
		EnrollToken:        cfg.Flow.EnrollToken,
		EnrollingTokenType: cfg.Flow.EnrollingTokenType,
	})
	defer flowCtrl.Close()

	issuer, err := assertion.NewIssuer(cfg.Assertion.Secret, cfg.AssertionTTL())
	if err != nil {
		return fmt.Errorf("assertion issuer: %w", err)
	}

	metricsHandler, err := metrics.Register(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	handler := router.New(router.Deps{
		Flow:           flowctrl.NewFlowController(flowCtrl, issuer),
		MetricsHandler: metricsHandler,
		Ready: func(r *http.Request) error {
			return sessions.Ping(r.Context())
		},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		// Cortar primero los polls en vuelo para no bloquear el drain.
		client.StopPolling()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", logger.Err(err))
		return err
	}

	log.Info("server stopped")
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
