// Package store holds the sliding-window buckets behind the per-IP limiter.
package store

import "time"

type options struct {
	now func() time.Time
}

// Option configures a bucket store.
type Option func(*options)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
