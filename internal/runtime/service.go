// Package runtime assembles the bot from configuration and manages the
// lifecycle of its webhook server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/hebrewbooks-bot/internal/archive"
	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/config"
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor"
	"github.com/tjfontaine/hebrewbooks-bot/internal/i18n"
	"github.com/tjfontaine/hebrewbooks-bot/internal/ratelimit"
	"github.com/tjfontaine/hebrewbooks-bot/internal/registration"
	"github.com/tjfontaine/hebrewbooks-bot/internal/server"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
	"github.com/tjfontaine/hebrewbooks-bot/internal/telemetry"
)

// shutdownTimeout bounds the wait for in-flight webhook requests.
const shutdownTimeout = 10 * time.Second

// Service is the running bot: the webhook server, the frontdoors feeding
// it and the stores behind it.
type Service struct {
	// Dependencies (injected via options)
	cfg            *config.Config
	logger         *slog.Logger
	store          storage.Store
	archive        bot.Archive
	platformClient *http.Client

	// Assembled in New
	limiter    *ratelimit.Limiter
	translator *i18n.Translator
	bot        *bot.Bot
	frontdoors []frontdoor.Built
	server     *server.Server

	// Lifecycle management
	mu            sync.Mutex
	cancel        context.CancelFunc
	group         *errgroup.Group
	stopTelemetry func(context.Context) error
}

// New assembles a Service. Without WithStore and friends the store named
// by the storage section is opened.
func New(opts ...Option) (*Service, error) {
	s := &Service{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if s.cfg == nil {
		return nil, errors.New("config required (use WithConfig or WithConfigFile)")
	}
	cfg := s.cfg

	if s.store == nil {
		store, err := OpenStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	if s.archive == nil {
		client, err := archive.New(cfg.Archive.BaseURL,
			archive.WithHTTPClient(&http.Client{
				Timeout:   cfg.Archive.Timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
			archive.WithCacheSize(cfg.Archive.CacheSize),
			archive.WithListTTL(cfg.Archive.ListTTL),
			archive.WithLogger(s.logger),
		)
		if err != nil {
			s.store.Close()
			return nil, fmt.Errorf("create archive client: %w", err)
		}
		s.archive = client
	}

	tr, err := i18n.New()
	if err != nil {
		s.store.Close()
		return nil, fmt.Errorf("load translations: %w", err)
	}
	s.translator = tr
	s.limiter = ratelimit.New(ratelimit.WithLogger(s.logger))

	registration.RegisterBuiltins()
	built, err := frontdoor.NewRegistry(s.platformClient, s.logger).Create(cfg.Platforms())
	if err != nil {
		s.store.Close()
		return nil, fmt.Errorf("init frontdoors: %w", err)
	}
	if len(built) == 0 {
		s.logger.Warn("no platform enabled; the server will only answer health checks")
	}
	s.frontdoors = built

	cats := cfg.RateLimitCategories()
	s.bot = bot.New(bot.Deps{
		Archive:    s.archive,
		Store:      s.store,
		Limiter:    s.limiter,
		Translator: s.translator,
		Limits: bot.Limits{
			PDFFull:   cats[config.CategoryPDFFull],
			PDFPage:   cats[config.CategoryPDFPage],
			ImagePage: cats[config.CategoryImagePage],
		},
		Senders:       frontdoor.Senders(built),
		Logger:        s.logger,
		Maintenance:   cfg.Maintenance,
		BroadcastPace: cfg.BroadcastPace,
	})

	s.server = server.New(cfg.Server.Port, cfg.Server.RequestTimeout, s.logger)
	for _, h := range frontdoor.Handlers(built, s.bot) {
		s.server.Handle(h.Method, h.Path, h.Handler)
	}
	return s, nil
}

// Handler returns the HTTP handler serving the webhooks.
func (s *Service) Handler() http.Handler { return s.server.Router }

// Bot returns the conversation logic.
func (s *Service) Bot() *bot.Bot { return s.bot }

// Store returns the user store.
func (s *Service) Store() storage.Store { return s.store }

// Frontdoors returns the enabled frontdoors ordered by type.
func (s *Service) Frontdoors() []frontdoor.Built { return s.frontdoors }

// Start launches the webhook server and the rate limit sweeper. It returns
// once they are running; Shutdown stops them.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil {
		return errors.New("service already started")
	}

	if s.cfg.Telemetry.Enabled {
		stop, err := telemetry.InitTracer(s.cfg.Telemetry.Service, nil, s.logger)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		s.stopTelemetry = stop
	}

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.limiter.Run(gctx, s.cfg.RateLimitSweep)
		return nil
	})
	g.Go(s.server.Start)
	g.Go(func() error {
		// A failed server cancels gctx too; Shutdown is then a no-op.
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(sctx)
	})
	s.group = g

	names := make([]string, len(s.frontdoors))
	for i, f := range s.frontdoors {
		names[i] = f.Type
	}
	s.logger.Info("bot started",
		slog.Int("port", s.cfg.Server.Port),
		slog.Any("frontdoors", names),
		slog.Bool("maintenance", s.cfg.Maintenance),
	)
	return nil
}

// Wait blocks until the server stops and returns why.
func (s *Service) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Shutdown stops the server, lets running broadcasts finish until ctx is
// done, interrupts the rest and closes the store. It is safe to call without
// Start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down")
	var errs []error
	if s.cancel != nil {
		s.cancel()
		if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.bot.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Interrupt what is left so nothing touches the store after Close.
		s.bot.Stop()
		<-done
		errs = append(errs, fmt.Errorf("broadcasts interrupted: %w", ctx.Err()))
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if s.stopTelemetry != nil {
		if err := s.stopTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
