package socket

import "time"

type Options struct {
	Reconnect   bool
	Resubscribe bool
	KeepAlive   bool
	// MaxRetries bounds reconnect attempts. At least one attempt is made.
	MaxRetries        int
	MaxRetryDelay     time.Duration
	BaseRetryDelay    time.Duration
	KeepAliveInterval time.Duration
}

const (
	defaultMaxRetries        = 10
	defaultMaxRetryDelay     = 60 * time.Second
	defaultBaseRetryDelay    = 100 * time.Millisecond
	defaultKeepAliveInterval = 10 * time.Second
)

func DefaultOptions() Options {
	return Options{
		Reconnect:         true,
		Resubscribe:       true,
		KeepAlive:         true,
		MaxRetries:        defaultMaxRetries,
		MaxRetryDelay:     defaultMaxRetryDelay,
		BaseRetryDelay:    defaultBaseRetryDelay,
		KeepAliveInterval: defaultKeepAliveInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = defaultMaxRetryDelay
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = defaultBaseRetryDelay
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = defaultKeepAliveInterval
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	return o
}
