package goSession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. A Builder is single-use: Build may be
// called once.
type Builder struct {
	config Config
	logger zerolog.Logger

	store     credential.Store
	redis     redis.UniversalClient
	gateway   AuthGateway
	privilege permission.RemoteSource
	table     *permission.Table
	caches    []SessionCache
	now       func() time.Time

	built bool
}

// New returns a Builder with the default configuration and a no-op logger.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration. The config is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the root logger. Components log through children tagged
// with a component field.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = l
	return b
}

// WithStore sets the credential store. It takes precedence over the
// configured backend.
func (b *Builder) WithStore(s credential.Store) *Builder {
	b.store = s
	return b
}

// WithRedis selects a Redis credential store on client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithGateway sets the auth service. Without it Build creates a
// [gateway.Client] from Config.Gateway.
func (b *Builder) WithGateway(g AuthGateway) *Builder {
	b.gateway = g
	return b
}

// WithPrivilegeSource sets the remote privilege source. Without it, a
// gateway built from Config.Gateway is used, authenticated with the stored
// access token.
func (b *Builder) WithPrivilegeSource(src permission.RemoteSource) *Builder {
	b.privilege = src
	return b
}

// WithRoleTable replaces the built-in static role table.
func (b *Builder) WithRoleTable(t *permission.Table) *Builder {
	b.table = t
	return b
}

// WithSessionCache registers a cache cleared on logout.
func (b *Builder) WithSessionCache(c SessionCache) *Builder {
	if c != nil {
		b.caches = append(b.caches, c)
	}
	return b
}

// WithMetricsEnabled toggles engine counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles refresh and resolution latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
//
// Build may return an error when the configuration is invalid, no auth
// service is available or the bolt store cannot be opened.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []io.Closer

	// -------- CREDENTIAL STORE --------
	store := b.store
	switch {
	case store != nil:
	case b.redis != nil:
		store = credential.NewRedisStore(b.redis, cfg.Store.RedisPrefix)
	case cfg.Store.Backend == StoreRedis:
		return nil, errors.New("Store Backend redis requires a redis client")
	case cfg.Store.Backend == StoreBolt:
		bolt, err := credential.OpenBoltStore(cfg.Store.BoltPath, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCredentialStore, err)
		}
		store = bolt
		closers = append(closers, bolt)
	default:
		store = credential.NewMemoryStore()
	}

	// -------- AUTH GATEWAY --------
	gw := b.gateway
	var client *gateway.Client
	if gw == nil || (b.privilege == nil && cfg.Gateway.BaseURL != "") {
		if cfg.Gateway.BaseURL == "" {
			closeAll(closers)
			return nil, errors.New("auth gateway required: set Gateway BaseURL or use WithGateway")
		}
		c, err := gateway.New(cfg.Gateway.BaseURL,
			gateway.WithTimeout(cfg.Gateway.Timeout),
			gateway.WithUserAgent(cfg.Gateway.UserAgent),
			gateway.WithLogger(b.logger.With().Str("component", "gateway").Logger()),
		)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		client = c
		if gw == nil {
			gw = c
		}
	}

	// -------- PRIVILEGE SOURCE --------
	remote := b.privilege
	if remote == nil && client != nil {
		remote = client.PrivilegeSource(func(ctx context.Context) (string, error) {
			pair, err := store.Load(ctx)
			if err != nil {
				return "", err
			}
			return pair.RawAccessToken(), nil
		})
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	metrics := NewMetrics(cfg.Metrics)
	resolver := permission.NewResolver(b.table, remote,
		permission.WithTTL(cfg.Privilege.CacheTTL),
		permission.WithTimeout(cfg.Privilege.ResolveTimeout),
		permission.WithNow(now),
		permission.WithLogger(b.logger.With().Str("component", "resolver").Logger()),
		permission.WithObserver(func(o permission.Outcome) {
			switch o.Source {
			case permission.SourceCache:
				metrics.Inc(MetricPrivilegeCacheHit)
				return
			case permission.SourceRemote:
				metrics.Inc(MetricPrivilegeRemote)
			case permission.SourceStatic:
				metrics.Inc(MetricPrivilegeFallback)
			}
			metrics.Observe(MetricPrivilegeLatency, o.Elapsed)
		}),
	)

	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   cfg,
		logger:   b.logger.With().Str("component", "engine").Logger(),
		store:    store,
		gateway:  gw,
		resolver: resolver,
		events:   newEventDispatcher(cfg.Events),
		metrics:  metrics,
		caches:   append([]SessionCache(nil), b.caches...),
		closers:  closers,
		now:      now,
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
	e.rec.reset(0)
	e.refresher = &refreshScheduler{
		engine: e,
		guard:  &refresh.Guard{},
		logger: b.logger.With().Str("component", "scheduler").Logger(),
	}
	e.logouts = &logoutCoordinator{
		engine: e,
		logger: b.logger.With().Str("component", "logout").Logger(),
	}

	b.built = true
	return e, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
