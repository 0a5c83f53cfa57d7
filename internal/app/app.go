// Package app assembles the bot: the command executor, the interaction router behind the
// gateway session, the lifecycle scheduler and the operator API.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketbot/internal/config"
	"marketbot/internal/engine"
	"marketbot/internal/gateway"
	"marketbot/internal/interaction"
	"marketbot/internal/jobs"
	"marketbot/internal/log"
	"marketbot/internal/scheduler"
	"marketbot/internal/server"
)

const shutdownTimeout = 10 * time.Second

// Session is the platform connection. Ready is closed once the bot can serve commands.
type Session interface {
	Open(ctx context.Context) error
	Close() error
	Ready() <-chan struct{}
}

type Options struct {
	DB     *sql.DB
	Config *config.Config
	// Session replaces the gateway built from Config.Discord when set.
	Session func(h gateway.Handler) (Session, error)
	Logger  zerolog.Logger
	Now     func() time.Time
}

type App struct {
	Engine    engine.Engine
	Router    *interaction.Router
	Scheduler *scheduler.Scheduler

	session Session
	jobs    []*scheduler.RecurringJob
	http    *http.Server
	logger  zerolog.Logger
}

// New wires every component but starts nothing.
func New(opts Options) (*App, error) {
	if opts.DB == nil {
		return nil, errors.New("app needs a database")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger

	e := engine.New(opts.DB, cfg)
	e.Logger = logger.With().Str(log.FieldComponent, "engine").Logger()
	if opts.Now != nil {
		e.Now = opts.Now
	}

	routerLog := logger.With().Str(log.FieldComponent, "interaction").Logger()
	router := interaction.NewRouter(interaction.Config{
		Executor:      e,
		Redirector:    interaction.NewRedirector(),
		Faults:        interaction.LogFaultReporter{Logger: routerLog},
		DialogTimeout: cfg.Interaction.DialogTimeout,
		Logger:        routerLog,
	})

	newSession := opts.Session
	if newSession == nil {
		newSession = func(h gateway.Handler) (Session, error) {
			return gateway.New(gateway.Config{
				Token:           cfg.Discord.Token,
				ResponseTimeout: cfg.Discord.ResponseTimeout,
				Handler:         h,
				Logger:          logger.With().Str(log.FieldComponent, "gateway").Logger(),
			})
		}
	}
	session, err := newSession(router)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{
		Ready:  session.Ready(),
		Logger: logger.With().Str(log.FieldComponent, "scheduler").Logger(),
		Now:    opts.Now,
	})
	recurring, err := buildJobs(cfg, e, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Engine:    e,
		Router:    router,
		Scheduler: sched,
		session:   session,
		jobs:      recurring,
		logger:    logger,
	}
	if cfg.HTTP.Addr != "" {
		handler, err := server.New(server.Config{
			Engine:   e,
			Jobs:     sched,
			BasePath: cfg.HTTP.BasePath,
			Auth:     server.AuthConfig{JWTSecret: cfg.HTTP.JWTSecret},
			Logger:   logger.With().Str(log.FieldComponent, "http").Logger(),
		})
		if err != nil {
			return nil, err
		}
		a.http = &http.Server{Addr: cfg.HTTP.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	}
	return a, nil
}

// buildJobs returns the lifecycle jobs in registration order with their configured
// schedules.
func buildJobs(cfg *config.Config, e engine.Engine, logger zerolog.Logger) ([]*scheduler.RecurringJob, error) {
	jobLog := logger.With().Str(log.FieldComponent, "jobs").Logger()
	var out []*scheduler.RecurringJob
	for _, sw := range jobs.All(e.Repo, e, jobLog) {
		spec, ok := cfg.Jobs[sw.Name()]
		if !ok {
			return nil, fmt.Errorf("no schedule configured for job %s", sw.Name())
		}
		schedule, err := scheduler.ParseSchedule(spec)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", sw.Name(), err)
		}
		out = append(out, scheduler.NewJob(sw.Name(), schedule, sw))
	}
	return out, nil
}

// Run connects the session, starts the jobs once the session is ready and serves the
// operator API until ctx ends. Shutdown stops the jobs before the session goes away so
// no sweep posts into a closed connection.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if a.http != nil {
		var err error
		if ln, err = net.Listen("tcp", a.http.Addr); err != nil {
			return fmt.Errorf("listen %s: %w", a.http.Addr, err)
		}
		a.logger.Info().Str("addr", ln.Addr().String()).Msg("operator api listening")
	}
	if err := a.session.Open(ctx); err != nil {
		if ln != nil {
			ln.Close()
		}
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.Scheduler.Start(gctx, a.jobs...)
		if errors.Is(err, context.Canceled) || errors.Is(err, scheduler.ErrStopped) {
			return nil
		}
		return err
	})
	if ln != nil {
		g.Go(func() error {
			if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	a.logger.Info().Msg("shutting down")
	a.Scheduler.Stop()
	err := a.session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := a.Router.Drain(ctx); derr != nil {
		a.logger.Warn().Err(derr).Msg("interaction turns still running at shutdown")
	}
	if a.http != nil {
		if herr := a.http.Shutdown(ctx); herr != nil && err == nil {
			err = herr
		}
	}
	return err
}
