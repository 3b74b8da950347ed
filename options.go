package taskbridge

import "github.com/joeycumines/logiface"

type adapterConfig struct {
	logger *logiface.Logger[logiface.Event]
}

// AdapterOption configures a [TaskPromiseAdapter] at construction.
type AdapterOption func(*adapterConfig)

// WithLogger attaches a structured logger to the adapter. Lifecycle
// transitions are logged at debug level. A nil logger (the default) disables
// logging entirely.
func WithLogger(logger *logiface.Logger[logiface.Event]) AdapterOption {
	return func(cfg *adapterConfig) {
		cfg.logger = logger
	}
}
