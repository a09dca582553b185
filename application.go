package jobscheduler

import (
	"context"
	"net/http"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/event"
	"github.com/Deepreo/jobscheduler/modules/servers"
	"go.uber.org/zap"
)

// Application runs a scheduler together with its optional surfaces: the
// lifecycle export bus and the admin HTTP server.
type Application struct {
	scheduler *JobScheduler
	events    *event.InMemory
	bridge    *event.Bridge
	admin     *servers.AdminServer
	log       *zap.Logger
}

func NewApplication(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	s, err := NewFromConfig(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	app := &Application{scheduler: s, log: s.log.Named("app")}

	if cfg.Events.Enabled {
		events, err := event.NewInMemory(cfg.Events, s.opts.log)
		if err != nil {
			_ = s.Shutdown(ctx)
			return nil, err
		}
		app.events = events
		app.bridge = event.NewBridge(s.Context(), events, s.opts.log)
	}
	if cfg.Admin.Enabled {
		admin, err := servers.NewAdminServer(cfg.Admin, s, s.opts.log)
		if err != nil {
			_ = s.Shutdown(ctx)
			return nil, err
		}
		app.admin = admin
	}
	return app, nil
}

func (app *Application) Scheduler() *JobScheduler {
	return app.scheduler
}

// Events returns the export bus, nil when disabled. Subscribe before Run.
func (app *Application) Events() *event.InMemory {
	return app.events
}

// Admin returns the admin server, nil when disabled.
func (app *Application) Admin() *servers.AdminServer {
	return app.admin
}

// Run starts ticking and serves until ctx ends or the admin server fails.
func (app *Application) Run(ctx context.Context) error {
	if err := app.scheduler.Init(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	if app.events != nil {
		app.bridge.Start(app.scheduler.lifetime)
		go func() {
			if err := app.events.Run(app.scheduler.lifetime); err != nil {
				app.log.Error("event bus failed", zap.Error(err))
			}
		}()
	}
	if err := app.scheduler.Start(ctx); err != nil {
		return err
	}
	if app.admin != nil {
		go func() {
			if err := app.admin.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- errors.InfraError(errors.Wrap(err, "admin server failed"))
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the admin server first, then the scheduler, then the export
// bus.
func (app *Application) Shutdown(ctx context.Context) error {
	var err error
	if app.admin != nil {
		if adminErr := app.admin.Shutdown(ctx); adminErr != nil {
			err = adminErr
		}
	}
	if schedErr := app.scheduler.Shutdown(ctx); schedErr != nil && err == nil {
		err = schedErr
	}
	if app.events != nil {
		if eventsErr := app.events.Close(); eventsErr != nil && err == nil {
			err = eventsErr
		}
	}
	return err
}
