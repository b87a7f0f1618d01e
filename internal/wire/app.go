package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	mqttadapter "github.com/alanyang/domain-server/internal/adapter/mqtt"
	pgdb "github.com/alanyang/domain-server/internal/adapter/postgres"
	pgassignment "github.com/alanyang/domain-server/internal/adapter/postgres/assignment"
	pgeventbus "github.com/alanyang/domain-server/internal/adapter/postgres/eventbus"
	pglocker "github.com/alanyang/domain-server/internal/adapter/postgres/locker"
	redisadapter "github.com/alanyang/domain-server/internal/adapter/redis"
	"github.com/alanyang/domain-server/internal/adapter/ticket"
	"github.com/alanyang/domain-server/internal/config"
	"github.com/alanyang/domain-server/internal/domain/node"
	portassignment "github.com/alanyang/domain-server/internal/port/assignment"
	portcache "github.com/alanyang/domain-server/internal/port/cache"
	porteventbus "github.com/alanyang/domain-server/internal/port/eventbus"
	portverifier "github.com/alanyang/domain-server/internal/port/verifier"
	"github.com/alanyang/domain-server/internal/security"

	"github.com/alanyang/domain-server/internal/service/admission"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
	statussvc "github.com/alanyang/domain-server/internal/service/status"

	"github.com/alanyang/domain-server/internal/transport"
	"github.com/alanyang/domain-server/internal/transport/dtls"
	mcptransport "github.com/alanyang/domain-server/internal/transport/mcp"
	"github.com/alanyang/domain-server/internal/transport/udp"
)

// App holds the top-level resources needed to run and gracefully stop the server.
type App struct {
	Config   *config.Config
	Server   *http.Server
	UDP      *udp.Server
	Sessions *dtls.Manager // nil when DTLS is disabled

	pool   *pgxpool.Pool
	redis  *goredis.Client
	mqtt   *mqttadapter.Client
	bridge *mqttadapter.Bridge
}

// Build is the composition root: the only place concrete types are wired to their
// interface dependencies. Postgres, Redis and MQTT are optional; without them the
// domain runs entirely in memory.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	// ── Assignment configuration ─────────────────────────────────────────────
	policy := node.DefaultPolicy
	var defs []config.AssignmentDef
	var excludeDefaults []string
	if cfg.AssignmentConfig != "" {
		f, err := config.LoadAssignments(cfg.AssignmentConfig)
		if err != nil {
			return nil, err
		}
		overrides, err := f.PolicyOverrides()
		if err != nil {
			return nil, err
		}
		policy = policy.With(overrides)
		defs = f.Assignments
		excludeDefaults = f.ExcludeDefaults
	}
	excluded, err := config.Excluded(excludeDefaults, cfg.ExcludedTypes)
	if err != nil {
		return nil, err
	}

	// ── Persistence + events ─────────────────────────────────────────────────
	var (
		store    portassignment.Store  = memory.NewAssignmentStore()
		eventBus porteventbus.EventBus = memory.NewEventBus()
	)
	if cfg.DatabaseURL != "" {
		app.pool, err = pgdb.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		// Replicas starting together would race on CREATE TABLE IF NOT EXISTS.
		pool := app.pool
		if err := pglocker.New(pool).WithLock(ctx, pglocker.Key("domain-server/migrations"), func(ctx context.Context) error {
			return pgdb.Migrate(ctx, pool)
		}); err != nil {
			return nil, err
		}
		store = pgassignment.New(app.pool, cfg.DomainID)
		eventBus = pgeventbus.New(app.pool, cfg.DomainID)
		slog.InfoContext(ctx, "postgres enabled: assignments persisted, events over LISTEN/NOTIFY")
	}

	// ── Tickets ──────────────────────────────────────────────────────────────
	memCache := memory.NewCache()
	var cache portcache.Cache = memCache
	if cfg.RedisAddr != "" {
		app.redis, err = redisadapter.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		cache = redisadapter.NewCache(app.redis, "domain:"+cfg.DomainID.String()+":")
		memCache = nil
	}

	var verifier portverifier.Verifier = ticket.Disabled{}
	if cfg.TicketPublicKey != "" {
		v, err := ticket.NewVerifier(cfg.TicketPublicKey)
		if err != nil {
			return nil, fmt.Errorf("ticket verifier: %w", err)
		}
		verifier = v
	} else {
		slog.WarnContext(ctx, "TICKET_PUBLIC_KEY not set: ticket authentication disabled")
	}
	verifier = ticket.NewCachingVerifier(verifier, cache, cfg.TicketCacheTTL)

	// ── Services ─────────────────────────────────────────────────────────────
	nodes := memory.NewNodeList()

	registry := svcassignment.NewRegistry(cfg.DomainID, store, eventBus)
	if err := registry.Configure(ctx, defs, excluded); err != nil {
		return nil, err
	}

	admissionSvc := admission.NewService(nodes, registry, verifier, eventBus, admission.Config{
		Policy:        policy,
		VerifyTimeout: cfg.VerifyTimeout,
		Trusted:       cfg.Trusted,
	})

	// ── UDP + DTLS ───────────────────────────────────────────────────────────
	if cfg.DTLSEnabled {
		sec, err := loadSecurity(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if sec != nil {
			app.Sessions = dtls.NewManager(sec, dtls.Config{
				HandshakeTimeout: cfg.DTLSHandshakeTimeout,
				IdleTimeout:      cfg.DTLSIdleTimeout,
				MaxHandshakes:    cfg.DTLSMaxHandshakes,
			}, udp.Dispatch(admissionSvc))
		}
	}
	app.UDP = udp.New(udp.Config{
		PlainAddr:   cfg.UDPAddr,
		SecuredAddr: cfg.DTLSAddr,
	}, admissionSvc, nodes, app.Sessions)

	// ── Transport ─────────────────────────────────────────────────────────────
	var sessions statussvc.SessionCounter
	if app.Sessions != nil {
		sessions = app.Sessions
	}
	statusSvc := statussvc.NewService(cfg.DomainID, nodes, registry, sessions)
	router := transport.NewRouter(ctx, statusSvc, mcptransport.New(statusSvc), eventBus)
	app.Server = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	// ── MQTT bridge ──────────────────────────────────────────────────────────
	if cfg.MQTTBrokerURL != "" {
		app.mqtt, err = mqttadapter.Connect(mqttadapter.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  "domain-server-" + cfg.DomainID.String(),
		})
		if err != nil {
			return nil, err
		}
		app.bridge = mqttadapter.NewBridge(app.mqtt, cfg.MQTTTopicPrefix)
		if err := app.bridge.Start(ctx, eventBus); err != nil {
			return nil, err
		}
	}

	startSweeper(ctx, cfg, sweepTargets{
		nodes:    nodes,
		registry: registry,
		sessions: app.Sessions,
		cache:    memCache,
	})

	slog.InfoContext(ctx, "application wired",
		"domain_id", cfg.DomainID,
		"http_addr", cfg.HTTPAddr,
		"udp_addr", cfg.UDPAddr,
		"dtls", app.Sessions != nil,
	)
	return app, nil
}

// loadSecurity returns the DTLS identity, or nil when the server should run
// plain-only. Certificate problems are fatal unless DTLS_ALLOW_INSECURE is set.
func loadSecurity(ctx context.Context, cfg *config.Config) (*security.Context, error) {
	if cfg.DTLSCertFile == "" && cfg.DTLSKeyFile == "" && cfg.DTLSAllowInsecure {
		sec, err := security.Ephemeral()
		if err != nil {
			return nil, err
		}
		slog.WarnContext(ctx, "no DTLS certificate configured: using an ephemeral self-signed certificate",
			"fingerprint", sec.Fingerprint())
		return sec, nil
	}

	sec, err := security.Load(cfg.DTLSCertFile, cfg.DTLSKeyFile)
	if err != nil {
		if cfg.DTLSAllowInsecure && errors.Is(err, security.ErrCertificate) {
			slog.WarnContext(ctx, "DTLS disabled: certificate could not be loaded", "error", err)
			return nil, nil
		}
		return nil, err
	}
	slog.InfoContext(ctx, "DTLS certificate loaded", "fingerprint", sec.Fingerprint(), "not_after", sec.NotAfter())
	return sec, nil
}

// Close releases everything Build acquired. Servers are stopped by the caller
// first; Close is safe to call on a partially built App.
func (a *App) Close() {
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
