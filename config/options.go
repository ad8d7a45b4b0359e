package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the optional prefix of option names given as environment
// variables or in an env file.
const EnvPrefix = "RTLOOP_"

type optionSetter func(c *Config, value string) error

var optionSetters = map[string]optionSetter{
	"sync_mode": func(c *Config, v string) error {
		m, err := ParseSyncMode(v)
		c.SyncMode = m
		return err
	},
	"sampling_period_ms":       durationSetter(time.Millisecond, func(c *Config) *time.Duration { return &c.SamplingPeriod }),
	"processing_deadline_us":   durationSetter(time.Microsecond, func(c *Config) *time.Duration { return &c.ProcessingDeadline }),
	"transmission_deadline_us": durationSetter(time.Microsecond, func(c *Config) *time.Duration { return &c.TransmissionDeadline }),
	"actuator_deadline_ms":     durationSetter(time.Millisecond, func(c *Config) *time.Duration { return &c.ActuatorDeadline }),
	"feedback_deadline_ms":     durationSetter(time.Millisecond, func(c *Config) *time.Duration { return &c.FeedbackDeadline }),
	"processing_work_us":       durationSetter(time.Microsecond, func(c *Config) *time.Duration { return &c.ProcessingWork }),
	"actuator_cost_us":         durationSetter(time.Microsecond, func(c *Config) *time.Duration { return &c.ActuatorCost }),
	"contention_timeout_us":    durationSetter(time.Microsecond, func(c *Config) *time.Duration { return &c.ContentionTimeout }),

	"background_load_threads": intSetter(func(c *Config) *int { return &c.BackgroundLoadThreads }),
	"pin_core":                intSetter(func(c *Config) *int { return &c.PinCore }),
	"filter_window":           intSetter(func(c *Config) *int { return &c.FilterWindow }),
	"max_samples":             intSetter(func(c *Config) *int { return &c.MaxSamples }),
	"recalibration_window":    intSetter(func(c *Config) *int { return &c.RecalibrationWindow }),
	"sensor_queue_capacity":   intSetter(func(c *Config) *int { return &c.SensorQueueCapacity }),
	"channel_capacity":        intSetter(func(c *Config) *int { return &c.ChannelCapacity }),
	"feedback_capacity":       intSetter(func(c *Config) *int { return &c.FeedbackCapacity }),

	"anomaly_threshold":   floatSetter(func(c *Config) *float64 { return &c.AnomalyThreshold }),
	"integral_limit":      floatSetter(func(c *Config) *float64 { return &c.IntegralLimit }),
	"output_limit":        floatSetter(func(c *Config) *float64 { return &c.OutputLimit }),
	"dropout_probability": floatSetter(func(c *Config) *float64 { return &c.DropoutProbability }),
	"delay_probability":   floatSetter(func(c *Config) *float64 { return &c.DelayProbability }),
	"error_band":          floatSetter(func(c *Config) *float64 { return &c.ErrorBand }),
	"miss_band":           floatSetter(func(c *Config) *float64 { return &c.MissBand }),

	"pid_gains": func(c *Config, v string) error {
		g, err := ParsePIDGains(v)
		c.PIDGains = g
		return err
	},
	"actuators": func(c *Config, v string) error {
		c.Actuators = splitList(v)
		return nil
	},
	"seed": func(c *Config, v string) error {
		s, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fatalf("seed: %v", err)
		}
		c.Seed = s
		return nil
	},
}

func durationSetter(
	unit time.Duration,
	field func(c *Config) *time.Duration,
) optionSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fatalf("invalid duration %q", v)
		}

		*field(c) = time.Duration(f * float64(unit))

		return nil
	}
}

func intSetter(field func(c *Config) *int) optionSetter {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fatalf("invalid integer %q", v)
		}

		*field(c) = i

		return nil
	}
}

func floatSetter(field func(c *Config) *float64) optionSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fatalf("invalid number %q", v)
		}

		*field(c) = f

		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}

// ParsePIDGains parses "Kp,Ki,Kd".
func ParsePIDGains(v string) (PIDGains, error) {
	parts := splitList(v)
	if len(parts) != 3 {
		return PIDGains{}, fatalf("pid_gains must be \"Kp,Ki,Kd\", got %q", v)
	}

	values := make([]float64, 3)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return PIDGains{}, fatalf("pid_gains: invalid number %q", p)
		}
		values[i] = f
	}

	return PIDGains{Kp: values[0], Ki: values[1], Kd: values[2]}, nil
}

// OptionNames lists every recognized option in sorted order.
func OptionNames() []string {
	names := make([]string, 0, len(optionSetters))
	for name := range optionSetters {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.TrimPrefix(key, strings.ToLower(EnvPrefix))
}

// Apply overrides c with the given options. Unknown keys are rejected so a
// typo never silently falls back to a default. Options are applied in sorted
// key order so that errors are deterministic.
func (c Config) Apply(options map[string]string) (Config, error) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		setter, ok := optionSetters[normalizeKey(k)]
		if !ok {
			return c, fatalf("unknown option %q", k)
		}

		if err := setter(&c, options[k]); err != nil {
			return c, fmt.Errorf("option %s: %w", k, err)
		}
	}

	// Give every run its own copy so callers cannot alias the slice.
	c.Actuators = append([]string(nil), c.Actuators...)

	return c, nil
}

// LoadEnvFile reads an env-style file with godotenv and returns only the
// recognized options in it.
func LoadEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fatalf("reading %s: %v", path, err)
	}

	return filterKnown(values), nil
}

// EnvOptions collects RTLOOP_-prefixed options from the process environment.
func EnvOptions() map[string]string {
	values := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(k), EnvPrefix) {
			continue
		}
		values[k] = v
	}

	return filterKnown(values)
}

func filterKnown(values map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range values {
		if _, ok := optionSetters[normalizeKey(k)]; ok {
			out[normalizeKey(k)] = v
		}
	}

	return out
}

// LoadYAMLFile reads a YAML mapping of option names to values. Lists, such
// as actuators or pid_gains, may be written as YAML sequences.
func LoadYAMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fatalf("reading %s: %v", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fatalf("parsing %s: %v", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = yamlValue(v)
	}

	return filterKnown(values), nil
}

func yamlValue(v any) string {
	list, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}

	items := make([]string, len(list))
	for i, item := range list {
		items[i] = fmt.Sprint(item)
	}

	return strings.Join(items, ",")
}

// LoadFile reads an options file. Files ending in .yaml or .yml are YAML,
// anything else is env-style.
func LoadFile(path string) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAMLFile(path)
	default:
		return LoadEnvFile(path)
	}
}

// Load builds a validated configuration from defaults, an optional options
// file, RTLOOP_ environment variables and explicit options, in increasing
// order of priority.
func Load(file string, options map[string]string) (Config, error) {
	merged := make(map[string]string)

	if file != "" {
		fileOptions, err := LoadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeInto(merged, fileOptions)
	}

	mergeInto(merged, EnvOptions())
	mergeInto(merged, options)

	c, err := Default().Apply(merged)
	if err != nil {
		return Config{}, err
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func mergeInto(dst, src map[string]string) {
	for k, v := range src {
		dst[normalizeKey(k)] = v
	}
}
