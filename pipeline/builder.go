package pipeline

import (
	"log/slog"

	"github.com/sarchlab/rtloop/actuation"
	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/sim/hooking"
	"github.com/sarchlab/rtloop/telemetry"
)

// Builder can build pipelines.
type Builder struct {
	cfg       config.Config
	logger    *slog.Logger
	actuators []actuation.Actuator
	hooks     []hooking.Hook
	window    int
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg:    config.Default(),
		logger: slog.Default(),
		window: telemetry.DefaultWindow,
	}
}

// WithConfig sets the run configuration. It is validated by Start, not here.
func (b Builder) WithConfig(c config.Config) Builder {
	b.cfg = c
	return b
}

// WithLogger sets the logger shared by every stage.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// WithActuators replaces the simulated actuators named by the configuration.
func (b Builder) WithActuators(actuators ...actuation.Actuator) Builder {
	b.actuators = append([]actuation.Actuator(nil), actuators...)
	return b
}

// WithHook attaches a hook to the synchronization manager of every run. It
// observes each event appended to the log.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), h)
	return b
}

// WithTelemetryWindow sets how many recent samples per stage the telemetry
// collector keeps.
func (b Builder) WithTelemetryWindow(n int) Builder {
	b.window = n
	return b
}

// Build creates a Pipeline. Nothing runs until Start.
func (b Builder) Build(name string) *Pipeline {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		name:      name,
		cfg:       b.cfg,
		logger:    logger.With("pipeline", name),
		actuators: b.actuators,
		hooks:     b.hooks,
		collector: telemetry.NewCollector(b.window),
		done:      make(chan struct{}),
	}
}
