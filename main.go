package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wordcraft/auth"
	"wordcraft/blob"
	"wordcraft/config"
	"wordcraft/docstore"
	"wordcraft/docstore/mongodoc"
	"wordcraft/docstore/sqlitedoc"
	"wordcraft/engagement"
	"wordcraft/feed"
	"wordcraft/live"
	"wordcraft/logging"
	"wordcraft/middleware"
	"wordcraft/mq"
	"wordcraft/posts"
	"wordcraft/profile"
	"wordcraft/ratelim"
	"wordcraft/rdx"
	"wordcraft/retry"
	"wordcraft/routes"
)

// securityHeaders applies a set of recommended HTTP security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		// HSTS (must be on HTTPS)
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack is required by the websocket upgrader, which type-asserts
// http.Hijacker on the writer it is handed.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.status = http.StatusSwitchingProtocols
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

// loggingMiddleware logs each request method, path, remote address, and duration.
func loggingMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// requestTimeout bounds the context of every non-websocket request.
func requestTimeout(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d <= 0 || r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// app holds everything built from the configuration.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	store  docstore.Store
	close  func(context.Context) error
	cache  *rdx.Cache
	blobs  *blob.Local
	feed   *feed.Aggregator
	names  *profile.Directory
	hub    *live.Hub
	policy retry.Policy
}

func openStore(ctx context.Context, cfg config.Config) (docstore.Store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		s, err := mongodoc.Connect(ctx, mongodoc.Options{
			URI:          cfg.MongoURI,
			Database:     cfg.MongoDatabase,
			Transactions: cfg.MongoTransactions,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := sqlitedoc.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	cache, err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		closeStore(ctx)
		return nil, fmt.Errorf("redis: %w", err)
	}

	policy := retry.Policy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay}
	a := &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		close:  closeStore,
		cache:  cache,
		blobs:  blob.NewLocal(cfg.BlobDir, cfg.PublicBaseURL, log.Named("blob")),
		names:  profile.NewDirectory(store, cache, log.Named("profile")),
		hub:    live.NewHub(log.Named("live")),
		policy: policy,
	}
	a.feed = feed.New(store, log.Named("feed"), feed.Options{
		Concurrency: cfg.FeedConcurrency,
		MaxUsers:    cfg.FeedMaxUsers,
		PageMax:     cfg.FeedPageMax,
		Retry:       policy,
	})
	return a, nil
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.cache.Close(); err != nil {
		a.log.Warn("redis close", zap.Error(err))
	}
	if err := a.close(ctx); err != nil {
		a.log.Warn("store close", zap.Error(err))
	}
	_ = a.log.Sync()
}

func (a *app) engagement(pub engagement.Publisher) *engagement.Service {
	return engagement.NewService(a.store, a.log.Named("engagement"),
		engagement.WithAuthorNames(a.names),
		engagement.WithPublisher(pub),
		engagement.WithPostSource(a.feed),
		engagement.WithRetryPolicy(a.policy),
	)
}

func (a *app) publisher() engagement.Publisher {
	if a.cache.Conn != nil {
		return mq.NewRedisPublisher(a.cache.Conn)
	}
	return mq.Direct{Sink: a.hub}
}

func (a *app) handler(limiter *ratelim.RateLimiter) http.Handler {
	authMW := middleware.NewAuth(a.cfg.Secret(), a.cache)
	authSvc := auth.NewService(a.store, a.cfg.Secret(), a.cfg.TokenTTL, a.log.Named("auth"),
		auth.WithRevoker(a.cache),
		auth.WithNameCache(a.names),
	)

	router := routes.New(routes.Deps{
		Auth:               authMW,
		RateLimiter:        limiter,
		AuthHandlers:       auth.NewHandlers(authSvc, a.log),
		ProfileHandlers:    profile.NewHandlers(profile.NewService(a.store, a.blobs, a.names, a.log.Named("profile")), a.log),
		FeedHandlers:       feed.NewHandlers(a.feed, a.log),
		PostHandlers:       posts.NewHandlers(posts.NewService(a.store, a.blobs, a.names, a.log.Named("posts")), a.log),
		EngagementHandlers: engagement.NewHandlers(a.engagement(a.publisher()), a.log),
		Hub:                a.hub,
		BlobDir:            a.blobs.Root(),
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	return loggingMiddleware(a.log, securityHeaders(requestTimeout(a.cfg.RequestTimeout, corsHandler)))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	limiter := ratelim.NewRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
	server := &http.Server{
		Addr:              a.cfg.Port,
		Handler:           a.handler(limiter),
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	server.RegisterOnShutdown(func() {
		a.log.Info("shutting down live hub")
		a.hub.Stop()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run()
		return nil
	})
	g.Go(func() error {
		limiter.RunCleanup(gctx, time.Minute, 10*time.Minute)
		return nil
	})
	if a.cache.Conn != nil {
		g.Go(func() error {
			return mq.StartEngagementWorker(gctx, a.cache.Conn, a.hub, a.log.Named("mq"))
		})
	}
	g.Go(func() error {
		a.log.Info("server listening", zap.String("addr", a.cfg.Port), zap.String("store", a.cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received; shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server stopped cleanly")
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	userIDs := reconcileUsers
	if len(userIDs) == 0 {
		users, err := a.store.List(ctx, docstore.Users(), 0)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for _, u := range users {
			userIDs = append(userIDs, u.ID)
		}
	}

	svc := a.engagement(nil)
	var total engagement.Report
	for _, id := range userIDs {
		rep, err := svc.Reconcile(ctx, id)
		if err != nil {
			a.log.Error("reconcile failed", zap.String("userId", id), zap.Error(err))
			continue
		}
		total.Removed += rep.Removed
		total.Restored += rep.Restored
		if rep.Removed+rep.Restored > 0 {
			a.log.Info("bookmarks reconciled", zap.String("userId", id),
				zap.Int("removed", rep.Removed), zap.Int("restored", rep.Restored))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "users=%d removed=%d restored=%d\n", len(userIDs), total.Removed, total.Restored)
	return nil
}

var reconcileUsers []string

var rootCmd = &cobra.Command{
	Use:           "wordcraft",
	Short:         "WordCraft posts, likes and bookmarks API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair bookmark indexes against the posts' bookmark sets",
	Long: `Drops bookmark entries whose post is gone or no longer lists the user,
and recreates entries for posts that list the user but have none.

Without --user every user is reconciled.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileUsers, "user", nil, "user id to reconcile (repeatable)")
	rootCmd.AddCommand(serveCmd, reconcileCmd)
	rootCmd.RunE = runServe
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
