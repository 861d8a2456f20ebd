// Package shield assembles the merchant shield client from configuration:
// the session store, the transport, the auth adapter, the transaction
// listing service and the risk analyzer with its audit store.
package shield

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/health"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/risk"
	"github.com/mbd888/merchantshield/internal/session"
	"github.com/mbd888/merchantshield/internal/transactions"
	"github.com/mbd888/merchantshield/internal/transport"
	"github.com/mbd888/merchantshield/migrations"
)

// Client is the assembled client. The exported components may be used
// directly.
type Client struct {
	Config       *config.Config
	Sessions     *session.Manager
	Transport    *transport.Client
	Auth         *auth.Adapter
	Transactions *transactions.Service
	Analyzer     *risk.Analyzer
	Assessments  risk.Store

	db         *sql.DB
	redisStore *session.RedisStore
	cancelDB   context.CancelFunc
	logger     *slog.Logger
}

type options struct {
	logger      *slog.Logger
	store       session.Store
	assessments risk.Store
	notifier    risk.Notifier
	builder     *risk.Builder
}

// Option customises New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSessionStore overrides the configured session store.
func WithSessionStore(store session.Store) Option {
	return func(o *options) { o.store = store }
}

// WithAssessmentStore overrides the configured audit store.
func WithAssessmentStore(store risk.Store) Option {
	return func(o *options) { o.assessments = store }
}

// WithNotifier receives every new assessment.
func WithNotifier(n risk.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithBuilder overrides the submission builder.
func WithBuilder(b *risk.Builder) Option {
	return func(o *options) { o.builder = b }
}

// New builds a client and rehydrates the session. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	c := &Client{Config: cfg, logger: o.logger}

	store := o.store
	if store == nil {
		var err error
		if store, err = c.openSessionStore(ctx); err != nil {
			return nil, err
		}
	}

	c.Sessions = session.NewManager(store, logging.Component(o.logger, "session"))
	if err := c.Sessions.Load(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Transport = transport.New(transport.Config{
		BaseURL: cfg.APIURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	}, c.Sessions, logging.Component(o.logger, "transport"))

	c.Assessments = o.assessments
	if c.Assessments == nil {
		var err error
		if c.Assessments, err = c.openAssessmentStore(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.Auth = auth.NewAdapter(c.Transport, c.Sessions, logging.Component(o.logger, "auth"))
	c.Transactions = transactions.NewService(c.Transport, logging.Component(o.logger, "transactions"), cfg.ListLimit)

	c.Analyzer = risk.NewAnalyzer(c.Transport, c.Sessions, o.builder, c.Assessments, o.notifier,
		logging.Component(o.logger, "risk"))
	return c, nil
}

func (c *Client) openSessionStore(ctx context.Context) (session.Store, error) {
	switch c.Config.SessionStore {
	case config.StoreRedis:
		rs, err := session.NewRedisStoreFromURL(c.Config.RedisURL, c.Config.SessionKey)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.redisStore = rs
		c.logger.Info("session store: redis", "key", c.Config.SessionKey)
		return rs, nil
	case config.StoreMemory:
		c.logger.Debug("session store: memory")
		return session.NewMemoryStore(), nil
	default:
		c.logger.Debug("session store: file", "path", c.Config.SessionFile)
		return session.NewFileStore(c.Config.SessionFile), nil
	}
}

func (c *Client) openAssessmentStore(ctx context.Context) (risk.Store, error) {
	if c.Config.DatabaseURL == "" {
		return risk.NewMemoryStore(), nil
	}

	db, err := sql.Open("postgres", c.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	c.db = db
	statsCtx, stop := context.WithCancel(context.Background())
	c.cancelDB = stop
	go metrics.StartDBStatsCollector(statsCtx, db, 15*time.Second)

	c.logger.Info("assessment store: postgres")
	return risk.NewPostgresStore(db), nil
}

// PingBackend reports whether the backend answers at all. Any HTTP
// response counts; only a NetworkError means down.
func (c *Client) PingBackend(ctx context.Context) error {
	_, err := c.Transport.Get(ctx, "/", nil)
	var netErr *transport.NetworkError
	if errors.As(err, &netErr) {
		return err
	}
	return nil
}

// RegisterHealth adds checks for the backend and any external stores.
func (c *Client) RegisterHealth(reg *health.Registry) {
	reg.RegisterPing("backend", c.PingBackend)
	if c.redisStore != nil {
		reg.RegisterPing("redis", c.redisStore.Ping)
	}
	if c.db != nil {
		reg.RegisterPing("database", c.db.PingContext)
	}
}

// Close releases the database and Redis connections.
func (c *Client) Close() error {
	var errs []error
	if c.cancelDB != nil {
		c.cancelDB()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if c.redisStore != nil {
		if err := c.redisStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
