// Package app assembles the learner core: storage, backend adapter, session
// store, role resolver, router gate and the credential flows.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/bookmark"
	"weversity/services/learner-app/internal/config"
	"weversity/services/learner-app/internal/deeplink"
	"weversity/services/learner-app/internal/flows"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/role"
	"weversity/services/learner-app/internal/router"
	"weversity/services/learner-app/internal/session"
	"weversity/services/learner-app/internal/storage"
)

// Backend is everything the core needs from the auth service.
type Backend interface {
	backend.Auth
	backend.Profiles
	backend.Recovery
}

type Options struct {
	Backend                  Backend
	KV                       backend.KeyValue
	Navigator                nav.Navigator
	Scheduler                flows.Scheduler
	Logger                   *slog.Logger
	RequireEmailVerification bool
	ResendCooldown           time.Duration
	Now                      func() time.Time
}

type App struct {
	Backend   Backend
	KV        backend.KeyValue
	Session   *session.Store
	Roles     *role.Resolver
	Router    *router.Gate
	Bookmarks *bookmark.Store

	deps     flows.Deps
	cooldown time.Duration
	logger   *slog.Logger
	closers  []func() error
}

// Assemble wires the core from already constructed collaborators.
func Assemble(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := session.New(opts.Backend, opts.KV, session.Options{
		RequireEmailVerification: opts.RequireEmailVerification,
		Logger:                   logger,
	})
	roles := role.NewResolver(opts.Backend)
	// Flows navigate through the gate so they never repeat a screen it
	// already routed to.
	gate := router.New(store, opts.Navigator)
	return &App{
		Backend:   opts.Backend,
		KV:        opts.KV,
		Session:   store,
		Roles:     roles,
		Router:    gate,
		Bookmarks: bookmark.New(),
		deps: flows.Deps{
			Auth:      opts.Backend,
			Profiles:  opts.Backend,
			Recovery:  opts.Backend,
			KV:        opts.KV,
			Session:   store,
			Roles:     roles,
			Navigator: gate,
			Scheduler: opts.Scheduler,
			Logger:    logger,
			Now:       opts.Now,
		},
		cooldown: opts.ResendCooldown,
		logger:   logger,
	}
}

// New opens the SQLite store at cfg.StoragePath and connects the HTTP backend
// adapter to cfg.APIURL.
func New(cfg config.Config, navigator nav.Navigator, scheduler flows.Scheduler, logger *slog.Logger) (*App, error) {
	kv, err := storage.OpenSQLite(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	client, err := backend.NewClient(cfg.APIURL, kv, nil, logger)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	a := Assemble(Options{
		Backend:                  client,
		KV:                       kv,
		Navigator:                navigator,
		Scheduler:                scheduler,
		Logger:                   logger,
		RequireEmailVerification: cfg.RequireEmailVerification,
		ResendCooldown:           cfg.ResendCooldown,
	})
	a.closers = append(a.closers, kv.Close)
	return a, nil
}

// Start runs the initial session check and starts routing. A failed check
// still leaves the app usable in the signed-out state.
func (a *App) Start(ctx context.Context) error {
	a.Router.Start()
	return a.Session.Start(ctx)
}

func (a *App) Close() error {
	a.Router.Stop()
	a.Session.Stop()
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func (a *App) Signup() *flows.Signup {
	return flows.NewSignup(a.deps)
}

func (a *App) Login() *flows.Login {
	return flows.NewLogin(a.deps)
}

func (a *App) Verification() *flows.Verification {
	return flows.NewVerification(a.deps, a.cooldown)
}

func (a *App) Reset() *flows.Reset {
	return flows.NewReset(a.deps)
}

func (a *App) Logout(ctx context.Context) {
	a.Session.Logout(ctx)
}

// OpenLink handles the URL the app was opened with. Links without
// verification data are ignored.
func (a *App) OpenLink(ctx context.Context, links backend.DeepLinks) error {
	link, ok, err := deeplink.Initial(ctx, links)
	if err != nil {
		return err
	}
	if !ok || (!link.HasToken() && !link.Verified) {
		return nil
	}
	a.logger.InfoContext(ctx, "handling verification link", "path", link.Path)
	return a.Verification().HandleLink(ctx, link)
}
