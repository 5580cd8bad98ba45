// Package app wires the messenger server runtime: config, logging, stores,
// the websocket gateway, and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"messenger/cmd/internal/api"
	"messenger/cmd/internal/auth"
	"messenger/cmd/internal/delivery"
	"messenger/cmd/internal/ids"
	"messenger/cmd/internal/messages"
	"messenger/cmd/internal/metrics"
	"messenger/cmd/internal/presence"
	"messenger/cmd/internal/realtime"
	"messenger/cmd/internal/rooms"
	"messenger/cmd/internal/tasks"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// App is the messenger server runtime: it owns the backing connections, the
// router registry, and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Metrics

	dbPool    *pgxpool.Pool
	dbEnabled bool
	redis     *redis.Client
	presence  *presence.RedisStore
	bus       *realtime.NATSBus

	members realtime.MembershipIndex
	router  *realtime.Router
	ws      *realtime.WSGateway
	tasks   *tasks.Queue
	api     *api.Handler
}

// New constructs a fully wired App instance from config and logger.
//
// Without a database URL every store runs in process memory; without a Redis
// address presence stays in memory; without a NATS URL fan-out is local only.
func New(cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	verifier, err := auth.NewVerifier(authCfg)
	if err != nil {
		return nil, fmt.Errorf("auth verifier: %w", err)
	}

	a = &App{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			if a.tasks != nil {
				_ = a.tasks.Close(context.Background())
			}
			a.closeBackends()
		}
	}()

	st, err := a.newStores(context.Background())
	if err != nil {
		return nil, err
	}

	pstore, err := a.newPresenceStore(context.Background())
	if err != nil {
		return nil, err
	}

	a.members = st.members
	a.router = realtime.NewRouter(log, st.members, realtime.WithRouterMetrics(a.metrics))
	if err := a.newBus(); err != nil {
		return nil, err
	}

	a.tasks = tasks.NewQueue(log, cfg.TaskWorkers, cfg.TaskQueue,
		tasks.WithMetrics(a.metrics),
		tasks.WithTaskTimeout(cfg.TaskTimeout),
	)

	svc, err := messages.NewService(log, st.messages, st.members, a.router, messages.WithTasks(a.tasks))
	if err != nil {
		return nil, err
	}
	rms, err := rooms.NewService(log, st.rooms, st.messages)
	if err != nil {
		return nil, err
	}
	coord, err := delivery.NewCoordinator(log, st.receipts, a.router, delivery.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	trackerOpts := []presence.TrackerOption{presence.WithMetrics(a.metrics)}
	if st.status != nil {
		trackerOpts = append(trackerOpts, presence.WithStatusWriter(st.status))
	}
	tracker := presence.NewTracker(log, pstore, trackerOpts...)

	a.ws = realtime.NewWSGateway(log, a.router, verifier, tracker, coord, realtime.WithGatewayMetrics(a.metrics))

	a.api, err = api.NewHandler(log, api.LoadConfigFromEnv(), verifier, rms, svc, coord, tracker)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type stores struct {
	members  realtime.MembershipIndex
	rooms    rooms.Store
	messages messages.Store
	receipts delivery.Store
	status   presence.StatusWriter
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func (a *App) newStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		mem := messages.NewMemoryStore()
		// Room changes write straight into the index the router reads.
		members := realtime.NewMemoryMembershipIndex()
		return stores{
			members:  members,
			rooms:    rooms.NewMemoryStore(members),
			messages: mem,
			receipts: mem,
		}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db: %w", err)
	}
	a.dbPool = pool
	a.dbEnabled = true
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

	// The app owns the pool; stores only borrow it.
	members, err := realtime.NewPostgresMembershipIndex(pool, realtime.WithMembershipSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	rms, err := rooms.NewPostgresStore(pool, rooms.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	msgs, err := messages.NewPostgresStore(pool, messages.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	receipts, err := delivery.NewPostgresStore(pool, delivery.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	status, err := presence.NewPostgresStatusWriter(pool, presence.WithStatusSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	return stores{members: members, rooms: rms, messages: msgs, receipts: receipts, status: status}, nil
}

func (a *App) newPresenceStore(ctx context.Context) (presence.Store, error) {
	if a.cfg.RedisAddr == "" {
		a.log.Info("presence.redis.disabled.inmemory_store")
		return presence.NewMemoryStore(), nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	st, err := presence.NewRedisStore(a.redis)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.presence = st
	a.log.Info("presence.redis.enabled", "addr", a.cfg.RedisAddr, "db", a.cfg.RedisDB)
	return st, nil
}

func (a *App) newBus() error {
	if a.cfg.NATSURL == "" {
		return nil
	}

	nodeID := a.cfg.NodeID
	if nodeID == "" {
		id, err := ids.NewULID(time.Now().UTC())
		if err != nil {
			return err
		}
		nodeID = id
	}

	nc, err := nats.Connect(a.cfg.NATSURL,
		nats.Name("messenger-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.log.Warn("bus.nats.disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			a.log.Info("bus.nats.reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}

	bus, err := realtime.NewNATSBus(a.log, nc, a.cfg.NATSSubjectPrefix, nodeID)
	if err != nil {
		nc.Close()
		return err
	}
	a.bus = bus
	if err := a.router.UseBus(bus, nodeID); err != nil {
		return err
	}
	a.log.Info("bus.nats.enabled", "node_id", nodeID, "prefix", a.cfg.NATSSubjectPrefix)
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, a.cfg, a.log)
	}
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"redis_enabled", a.redis != nil,
		"bus_enabled", a.bus != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close drains websocket sessions (flushing presence), finishes queued side
// tasks, and then releases the backing connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.ws != nil {
		if err := a.ws.Shutdown(ctx); err != nil {
			a.log.Error("ws.shutdown.fail", "err", err)
			errs = append(errs, err)
		}
	}
	if a.tasks != nil {
		if err := a.tasks.Close(ctx); err != nil {
			a.log.Error("tasks.close.fail", "err", err)
			errs = append(errs, err)
		}
	}
	a.closeBackends()
	return errors.Join(errs...)
}

func (a *App) closeBackends() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("bus.close.fail", "err", err)
		}
		a.bus = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
