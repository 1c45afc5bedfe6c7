package executor

import (
	"io"
	"log/slog"
	"time"

	"github.com/caffeineduck/lam/hostfunc"
)

// DefaultBudget is used when neither the Evaluation nor the Executor sets one.
const DefaultBudget = 30 * time.Second

// Observer receives one call per finished evaluation. The metrics collector
// implements it.
type Observer interface {
	ObserveEvaluation(status string, d time.Duration)
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	budget   time.Duration
	logger   *slog.Logger
	observer Observer
	state    hostfunc.StateConfig
	caps     []hostfunc.Capability
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		budget: DefaultBudget,
		logger: slog.New(slog.DiscardHandler),
		state:  hostfunc.DefaultStateConfig(),
	}
}

// WithDefaultBudget sets the budget for evaluations that do not carry one.
func WithDefaultBudget(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		if d > 0 {
			c.budget = d
		}
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithObserver(o Observer) ExecutorOption {
	return func(c *executorConfig) {
		c.observer = o
	}
}

// WithStateConfig sets the key, value and entry limits enforced by set.
func WithStateConfig(cfg hostfunc.StateConfig) ExecutorOption {
	return func(c *executorConfig) {
		c.state = cfg
	}
}

// WithCapabilities limits every evaluation to the functions tagged with one
// of caps. Without it all registered functions are installed.
func WithCapabilities(caps ...hostfunc.Capability) ExecutorOption {
	return func(c *executorConfig) {
		c.caps = append([]hostfunc.Capability{}, caps...)
	}
}

// Option configures a single evaluation.
type Option func(*runConfig)

type runConfig struct {
	id     string
	output io.Writer
}

// WithID sets the evaluation ID used in logs. A random one is generated
// otherwise.
func WithID(id string) Option {
	return func(c *runConfig) {
		c.id = id
	}
}

// WithOutput sends the script's print output to w.
func WithOutput(w io.Writer) Option {
	return func(c *runConfig) {
		c.output = w
	}
}
