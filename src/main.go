package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"worker-host/src/bindings"
	_ "worker-host/src/modules/counter"
	"worker-host/src/shim"
)

type server struct {
	cfg     *Config
	shim    *shim.Shim
	redis   redis.UniversalClient
	queues  *bindings.Queues
	db      *bindings.Database
	limiter *limiter.Limiter
	metrics *Metrics
	hub     *TailHub
}

func main() {
	success := color.New(color.FgGreen).SprintFunc()
	highlight := color.New(color.FgCyan).SprintFunc()

	// 1. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(color.RedString("Error loading configuration: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize tracing
	shutdownTracing, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal(color.RedString("Tracing initialization failed: %v", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	// 3. Create storage clients; the setup gate verifies them on first use
	rdb := newRedisClient(cfg)
	defer rdb.Close()

	pool, err := InitDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(color.RedString("Database initialization failed: %v", err))
	}
	if pool != nil {
		defer pool.Close()
	}

	// 4. Resolve the handler module; it is loaded on the first call
	load, err := shim.Lookup(cfg.Module)
	if err != nil {
		log.Fatal(color.RedString("%v (available: %s)", err, strings.Join(shim.DefaultRegistry.Names(), ", ")))
	}

	srv, err := newServer(cfg, rdb, pool, load)
	if err != nil {
		log.Fatal(color.RedString("Server initialization failed: %v", err))
	}

	log.Printf(success("Worker host starting on port %s, module %s..."), highlight(cfg.Port), highlight(cfg.Module))
	log.Println(success("┌──────────────────────────────────────────────────────────────┐"))
	log.Println(success("│                      Host Endpoints                          │"))
	log.Println(success("│──────────────────────────────────────────────────────────────│"))
	log.Println(success("│ Method  │ Endpoint           │ Description                   │"))
	log.Println(success("├─────────┼────────────────────┼───────────────────────────────┤"))
	log.Println(success("│ POST    │ /__admin/token     │ Admin token (ADMIN_KEY)       │"))
	log.Println(success("│ GET     │ /__status          │ Initialization state (admin)  │"))
	log.Println(success("│ POST    │ /__scheduled       │ Fire scheduled now (admin)    │"))
	log.Println(success("│ POST    │ /__queue/{name}    │ Enqueue a message (admin)     │"))
	log.Println(success("│ GET     │ /__tail            │ Live invocation stream (admin)│"))
	log.Println(success("│ GET     │ /metrics           │ Prometheus metrics            │"))
	log.Println(success("│ *       │ /*                 │ Module fetch handler          │"))
	log.Println(success("└─────────┴────────────────────┴───────────────────────────────┘"))

	if err := srv.run(ctx); err != nil {
		log.Fatal(color.RedString("Server stopped: %v", err))
	}
	log.Println(success("✓ Shutdown complete"))
}

func newServer(cfg *Config, rdb redis.UniversalClient, pool *pgxpool.Pool, load shim.Loader) (*server, error) {
	policy, err := shim.ParseFailurePolicy(cfg.InitFailurePolicy)
	if err != nil {
		return nil, err
	}
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	s := &server{
		cfg:     cfg,
		redis:   rdb,
		queues:  bindings.NewQueues(rdb),
		limiter: limiter.New(memory.NewStore(), rate),
		metrics: NewMetrics(),
		hub:     NewTailHub(),
	}
	if pool != nil {
		s.db = bindings.NewDatabase(pool)
	}

	s.shim = shim.New(load,
		shim.WithSetup(s.setup),
		shim.WithEnv(s.buildEnv()),
		shim.WithFailurePolicy(policy),
		shim.WithObserver(observers{s.metrics, s.hub, shim.ObserverFunc(logEvent)}),
	)
	return s, nil
}

// buildEnv binds KV, every configured queue and, when configured, DB.
// QUEUE is the first queue; each queue is also bound as QUEUE_<NAME>.
func (s *server) buildEnv() *shim.Env {
	b := map[string]any{
		"KV": bindings.NewKV(s.redis, s.cfg.Module),
	}
	for i, name := range s.cfg.Queues {
		producer := s.queues.Producer(name)
		if i == 0 {
			b["QUEUE"] = producer
		}
		b["QUEUE_"+strings.ToUpper(name)] = producer
	}
	if s.db != nil {
		b["DB"] = s.db
	}
	return shim.NewEnv(s.cfg.Vars, b)
}

// setup is the process-wide action run once before the module is loaded.
func (s *server) setup(ctx context.Context) error {
	if err := waitFor(ctx, "redis", s.cfg.SetupAttempts, s.cfg.SetupBackoff, func(ctx context.Context) error {
		return s.redis.Ping(ctx).Err()
	}); err != nil {
		return err
	}
	if s.db != nil {
		if err := waitFor(ctx, "postgres", s.cfg.SetupAttempts, s.cfg.SetupBackoff, s.db.Ping); err != nil {
			return err
		}
	}
	log.Println(color.GreenString("✓ Setup complete for module %s", s.cfg.Module))
	return nil
}

func (s *server) configureRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", s.metrics.Handler())
	r.Handle("/__admin/token", s.RateLimitMiddleware(http.HandlerFunc(s.tokenHandler))).Methods("POST")

	admin := r.PathPrefix("/__").Subrouter()
	admin.Use(s.AuthMiddleware)
	{
		admin.HandleFunc("/status", s.statusHandler).Methods("GET")
		admin.HandleFunc("/scheduled", s.scheduledHandler).Methods("POST")
		admin.HandleFunc("/queue/{name}", s.enqueueHandler).Methods("POST")
		admin.Handle("/tail", s.hub).Methods("GET")
	}

	r.PathPrefix("/").Handler(s.RateLimitMiddleware(http.HandlerFunc(s.fetchHandler)))

	return r
}

// run serves HTTP, fires crons and consumes queues until ctx is done.
func (s *server) run(ctx context.Context) error {
	scheduler, err := NewScheduler(s.shim, s.cfg.Crons)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	httpServer := &http.Server{
		Handler:      s.configureRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return scheduler.Run(ctx)
	})
	for _, name := range s.cfg.Queues {
		consumer := s.newConsumer(name)
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	return g.Wait()
}

type observers []shim.Observer

func (o observers) Observe(ev shim.Event) {
	for _, obs := range o {
		obs.Observe(ev)
	}
}

// logEvent prints successful scheduled and queue calls; failures are
// already logged by the shim and fetch calls would flood the log.
func logEvent(ev shim.Event) {
	if ev.Err != nil || ev.Entrypoint == shim.CapFetch {
		return
	}
	log.Println(color.GreenString("✓ %s %s in %s", ev.Entrypoint, ev.ID, ev.Duration.Round(time.Microsecond)))
}
