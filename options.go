package hotpath

import "go.uber.org/zap"

// Option customizes Runtime construction.
type Option func(*options)

type options struct {
	config        *Config
	configFile    string
	logger        *zap.Logger
	disableNative bool
	onDowngrade   func(component string, cause error)
}

// WithConfig supplies a complete configuration. It replaces the defaults
// and anything loaded via WithConfigFile.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithConfigFile loads configuration from a YAML file on top of the
// defaults.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithLogger replaces the logger the Runtime would otherwise build from
// its logging configuration. The caller keeps ownership; Close will not
// sync it.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithoutNative skips native library probing for both stores regardless
// of configuration.
func WithoutNative() Option {
	return func(o *options) {
		o.disableNative = true
	}
}

// WithOnDowngrade registers a callback invoked after either store
// permanently abandons its native backend. component is "cache" or
// "metrics". The callback runs on the goroutine whose call observed the
// failure, so it must not block.
func WithOnDowngrade(fn func(component string, cause error)) Option {
	return func(o *options) {
		o.onDowngrade = fn
	}
}
