// Command factoryd runs the Factory: the deposit-ledger + deployment
// state-machine + reconciliation scheduler service described in spec.md.
// Wiring follows the teacher's cmd/rgsd/main.go shape (envOr-style config
// parsing, signal-driven graceful shutdown, Postgres-backed store when a
// database URL is configured, otherwise in-memory).
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp-strategies/factory/internal/account"
	"github.com/warp-strategies/factory/internal/api"
	"github.com/warp-strategies/factory/internal/containerport"
	"github.com/warp-strategies/factory/internal/deployment"
	"github.com/warp-strategies/factory/internal/identity"
	"github.com/warp-strategies/factory/internal/images"
	"github.com/warp-strategies/factory/internal/ledgerport"
	"github.com/warp-strategies/factory/internal/platform/auth"
	"github.com/warp-strategies/factory/internal/platform/clock"
	"github.com/warp-strategies/factory/internal/platform/metrics"
	"github.com/warp-strategies/factory/internal/platform/tlsconfig"
	"github.com/warp-strategies/factory/internal/reconcile"
	"github.com/warp-strategies/factory/internal/registry"
	"github.com/warp-strategies/factory/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.RealClock{}
	httpAddr := envOr("FACTORY_HTTP_ADDR", ":8080")
	databaseURL := envOr("FACTORY_DATABASE_URL", "")
	jwtSecret := envOr("FACTORY_JWT_SIGNING_SECRET", "dev-insecure-change-me")
	seedAdmin := envOr("FACTORY_SEED_ADMIN", "admin")

	minDeposit := mustParseInt64Env("FACTORY_MIN_DEPOSIT", 1_000_000)
	maxDeposit := mustParseInt64Env("FACTORY_MAX_DEPOSIT", 100_000_000_000)
	deploymentFee := mustParseInt64Env("FACTORY_DEPLOYMENT_FEE", 100_000_000)

	pendingTTL := mustParseDurationEnv("FACTORY_PENDING_TTL", "1h")
	deploymentTTL := mustParseDurationEnv("FACTORY_DEPLOYMENT_TTL", "24h")
	stuckTTL := mustParseDurationEnv("FACTORY_STUCK_TTL", "15m")
	maxInstallAttempts := mustParseIntEnv("FACTORY_MAX_INSTALL_ATTEMPTS", 3)
	retryBaseSecs := mustParseInt64Env("FACTORY_RETRY_BASE_SECS", 60)
	retryCapSecs := mustParseInt64Env("FACTORY_RETRY_CAP_SECS", 3600)

	tickSecs := mustParseDurationEnv("FACTORY_TICK_SECS", "300s")
	maxPerTick := mustParseIntEnv("FACTORY_MAX_PER_TICK", 50)

	tlsEnabled := mustParseBoolEnv("FACTORY_TLS_ENABLED", false)
	tlsCfg, err := tlsconfig.BuildTLSConfig(tlsconfig.TLSConfig{
		Enabled:           tlsEnabled,
		CertFile:          envOr("FACTORY_TLS_CERT_FILE", ""),
		KeyFile:           envOr("FACTORY_TLS_KEY_FILE", ""),
		ClientCAFile:      envOr("FACTORY_TLS_CLIENT_CA_FILE", ""),
		RequireClientCert: mustParseBoolEnv("FACTORY_TLS_REQUIRE_CLIENT_CERT", false),
		MinVersionTLS12:   true,
	})
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	var db *sql.DB
	if databaseURL != "" {
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
	}

	st := store.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	idents, err := identity.New(ctx, st, seedAdmin)
	if err != nil {
		log.Fatalf("seed identity registry: %v", err)
	}

	m := metrics.New()

	// The external fungible-token ledger and the host container platform are
	// both out-of-scope collaborators (spec.md §1); MemoPort/StubPort stand
	// in as the typed-port adapters a real deployment would replace (see
	// DESIGN.md).
	ledgerPort := ledgerport.NewMemoPort()
	containerPort := containerport.NewStubPort()

	ledger := account.New(st, clk, ledgerPort, account.Bounds{MinDeposit: minDeposit, MaxDeposit: maxDeposit})
	ledger.Metrics = m
	imgs := images.New(st)
	reg := registry.New(st)

	machineCfg := deployment.Config{
		PendingTTL:         pendingTTL,
		DeploymentTTL:      deploymentTTL,
		StuckTTL:           stuckTTL,
		MaxInstallAttempts: maxInstallAttempts,
		RetryBaseSecs:      retryBaseSecs,
		RetryCapSecs:       retryCapSecs,
	}
	machine := deployment.New(st, clk, ledger, imgs, reg, containerPort, machineCfg, deploymentFee)
	machine.Metrics = m
	machine.Logger = log.Printf

	scheduler := reconcile.New(machine, clk, reconcile.Config{TickInterval: tickSecs, MaxPerTick: maxPerTick})
	scheduler.Metrics = m
	scheduler.Logger = log.Printf
	go scheduler.Run(ctx)
	go publishGaugesPeriodically(ctx, ledger, machine, m, 30*time.Second)

	handler := &api.Handler{
		Ledger:     ledger,
		Machine:    machine,
		Images:     imgs,
		Registry:   reg,
		Identities: idents,
		Scheduler:  scheduler,
	}
	verifier := auth.NewJWTVerifier(jwtSecret)
	if keysetFile := envOr("FACTORY_JWT_KEYSET_FILE", ""); keysetFile != "" {
		keyset, err := auth.LoadHMACKeysetFile(keysetFile)
		if err != nil {
			log.Fatalf("load jwt keyset: %v", err)
		}
		verifier = auth.NewJWTVerifierWithKeyset(keyset)
		go rotateKeysetPeriodically(ctx, verifier, keysetFile, 5*time.Minute)
	}
	router := api.NewRouter(handler, verifier, m)

	httpServer := &http.Server{Addr: httpAddr, Handler: router, TLSConfig: tlsCfg}
	go func() {
		log.Printf("factoryd http listening on %s", httpAddr)
		var err error
		if tlsCfg != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("http server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// publishGaugesPeriodically refreshes the deployments-by-status gauge, since
// it is derived from the whole store rather than updated incrementally on
// every mutation. The balance-total gauge is not refreshed here.
func publishGaugesPeriodically(ctx context.Context, ledger *account.Ledger, machine *deployment.Machine, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if counts, err := machine.StatusCounts(ctx); err == nil {
				m.SetDeploymentsByStatus(counts)
			}
		}
	}
}

// rotateKeysetPeriodically re-reads the keyset file on an interval so an
// operator can roll the active signing key without restarting the process.
func rotateKeysetPeriodically(ctx context.Context, verifier *auth.JWTVerifier, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keyset, err := auth.LoadHMACKeysetFile(path)
			if err != nil {
				log.Printf("jwt keyset rotation: %v", err)
				continue
			}
			if err := verifier.SetKeyset(keyset); err != nil {
				log.Printf("jwt keyset rotation: %v", err)
			}
		}
	}
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func mustParseDurationEnv(key, def string) time.Duration {
	raw := envOr(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("invalid duration for %s=%q: %v", key, raw, err)
	}
	return d
}

func mustParseIntEnv(key string, def int) int {
	raw := envOr(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("invalid integer for %s=%q: %v", key, raw, err)
	}
	return v
}

func mustParseInt64Env(key string, def int64) int64 {
	raw := envOr(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Fatalf("invalid integer for %s=%q: %v", key, raw, err)
	}
	return v
}

func mustParseBoolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(envOr(key, ""))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		log.Fatalf("invalid boolean for %s=%q", key, raw)
		return def
	}
}
