package provider

import (
	"time"

	"proofrender/internal/pkg/logger"
)

type options struct {
	now func() time.Time
	log *logger.Logger
}

// Option customizes a provider.
type Option func(*options)

// WithClock replaces time.Now for progress estimates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. Providers scope it to their own component.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: logger.NewDiscard()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
