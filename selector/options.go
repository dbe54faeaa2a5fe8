package selector

import "github.com/joeycumines/ioruntime/rtlog"

// config holds the resolved Selector options (§6: "driver choice and
// executor only" — the executor is simply the goroutines New starts).
type config struct {
	logger *rtlog.Logger
}

// Option configures a Selector at construction, mirroring the pool
// package's functional-options pattern.
type Option interface {
	applySelector(*config)
}

type optionFunc func(*config)

func (f optionFunc) applySelector(cfg *config) { f(cfg) }

// WithLogger sets the structured logger used for selector-category log
// lines. A nil logger disables logging entirely; by default the
// selector uses a logger that discards its output (rtlog.NewDiscard).
func WithLogger(l *rtlog.Logger) Option {
	return optionFunc(func(cfg *config) { cfg.logger = l })
}

func resolveOptions(opts []Option) *config {
	cfg := &config{logger: rtlog.NewDiscard()}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applySelector(cfg)
	}
	return cfg
}
