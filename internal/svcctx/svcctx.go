// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/config"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/jobs"
	"github.com/averros/scanstage/internal/push"
	"github.com/averros/scanstage/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	DB         *store.DB
	Config     *config.Manager
	Home       *home.Dir
	Spec       *assessment.Spec
	Pool       *jobs.Pool
	JobManager *jobs.Manager
	Pipeline   *jobs.Pipeline
	Chores     *chore.Tracker
	Bundles    *bundle.Service
	Pusher     *push.Pusher
	Logger     *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// DBFrom extracts the database handle from context.
func DBFrom(ctx context.Context) *store.DB {
	if s := ServicesFrom(ctx); s != nil {
		return s.DB
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// SpecFrom extracts the assessment spec from context.
func SpecFrom(ctx context.Context) *assessment.Spec {
	if s := ServicesFrom(ctx); s != nil {
		return s.Spec
	}
	return nil
}

// PoolFrom extracts the worker pool from context.
func PoolFrom(ctx context.Context) *jobs.Pool {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pool
	}
	return nil
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// PipelineFrom extracts the bundle processing pipeline from context.
func PipelineFrom(ctx context.Context) *jobs.Pipeline {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pipeline
	}
	return nil
}

// ChoresFrom extracts the chore tracker from context.
func ChoresFrom(ctx context.Context) *chore.Tracker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Chores
	}
	return nil
}

// BundlesFrom extracts the bundle service from context.
func BundlesFrom(ctx context.Context) *bundle.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bundles
	}
	return nil
}

// PusherFrom extracts the pusher from context.
func PusherFrom(ctx context.Context) *push.Pusher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pusher
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
