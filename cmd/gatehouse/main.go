// Command gatehouse runs the authorization server with stores chosen
// from the environment: PostgreSQL when DATABASE_URL is set, Valkey when
// VALKEY_ADDR is set, in-memory otherwise.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gatehouse/gatehouse"
	dirmemory "github.com/gatehouse/gatehouse/directory/memory"
	"github.com/gatehouse/gatehouse/instrumentation"
	"github.com/gatehouse/gatehouse/providers"
	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/server"
	"github.com/gatehouse/gatehouse/storage"
	"github.com/gatehouse/gatehouse/storage/memory"
	"github.com/gatehouse/gatehouse/storage/postgres"
	"github.com/gatehouse/gatehouse/storage/valkey"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

type stores interface {
	storage.ClientStore
	storage.ScopeStore
	storage.CredentialStore
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store stores
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := postgres.Open(dsn)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		logger.Info("Using PostgreSQL storage")
	} else if addr := os.Getenv("VALKEY_ADDR"); addr != "" {
		vk, err := valkey.New(valkey.Config{
			Address:  addr,
			Password: os.Getenv("VALKEY_PASSWORD"),
			DB:       envInt("VALKEY_DB", 0),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer vk.Close()
		store = vk
		logger.Info("Using Valkey storage")
	} else {
		mem := memory.New(logger)
		defer mem.Stop()
		store = mem
		logger.Warn("Using in-memory storage; issued credentials will not survive a restart")
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "gatehouse",
		ServiceVersion: os.Getenv("GATEHOUSE_VERSION"),
		Enabled:        os.Getenv("GATEHOUSE_TELEMETRY") != "off",
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inst.Shutdown(shutdownCtx)
	}()

	users := dirmemory.New()

	srv, err := server.New(store, store, store, users, &server.Config{
		Issuer:            envOr("GATEHOUSE_ISSUER", "http://localhost:8080"),
		RequireS256:       os.Getenv("GATEHOUSE_REQUIRE_S256") == "true",
		AllowInsecureHTTP: os.Getenv("GATEHOUSE_ALLOW_HTTP") == "true",
	}, logger)
	if err != nil {
		return err
	}
	srv.SetAuditor(security.NewAuditor(logger, true))
	srv.SetInstrumentation(inst)

	if id, secret := os.Getenv("GITHUB_CLIENT_ID"), os.Getenv("GITHUB_CLIENT_SECRET"); id != "" {
		gh, err := providers.NewGitHub(id, secret, envOr("GATEHOUSE_ISSUER", "http://localhost:8080")+"/auth/github/callback")
		if err != nil {
			return err
		}
		srv.RegisterProvider(gh)
		logger.Info("Enabled GitHub login")
	}
	if id, secret := os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"); id != "" {
		gl, err := providers.NewGoogle(id, secret, envOr("GATEHOUSE_ISSUER", "http://localhost:8080")+"/auth/google/callback")
		if err != nil {
			return err
		}
		srv.RegisterProvider(gl)
		logger.Info("Enabled Google login")
	}

	handler := gatehouse.NewHandler(srv, sessionsFromEnv(logger), &gatehouse.Config{
		RateLimitPerSecond: envInt("GATEHOUSE_RATE_LIMIT", 10),
		TrustProxy:         os.Getenv("GATEHOUSE_TRUST_PROXY") == "true",
	}, logger)
	defer handler.Close()
	handler.SetInstrumentation(inst)

	httpServer := &http.Server{
		Addr:              envOr("GATEHOUSE_ADDR", ":8080"),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// devSessions authenticates every request as a fixed user. Development
// convenience only; real deployments implement SessionAuthenticator
// against their login UI.
type devSessions struct {
	uuid string
}

func (d devSessions) UserUUID(r *http.Request) (string, bool) {
	return d.uuid, true
}

func sessionsFromEnv(logger *slog.Logger) gatehouse.SessionAuthenticator {
	if uuid := os.Getenv("GATEHOUSE_DEV_USER"); uuid != "" {
		logger.Warn("GATEHOUSE_DEV_USER is set; every request is treated as that user")
		return devSessions{uuid: uuid}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
