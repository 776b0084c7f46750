package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/dfmigrate/internal/collector"
	"github.com/leapstack-labs/dfmigrate/internal/emitter"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// loggerKey is used to store the logger in a context.
type loggerKey struct{}

// configKey is used to store the loaded config in a context.
type configKey struct{}

// configFiles are looked up in the working directory when --config is not set.
var configFiles = []string{"dfmigrate.yaml", "dfmigrate.yml"}

// envSections are nested config sections reachable from flat env names,
// e.g. DATAFORM_COLLECTOR_RETRIES -> collector.retries.
var envSections = []string{"collector", "emitter"}

// flagKeys maps flag names whose config key differs from the snake_case name.
var flagKeys = map[string]string{
	"project":  "projects",
	"location": "locations",
	"days":     "history_days",
	"timeout":  "collect_timeout",
	"state":    "state_path",
	"save-raw": "collector.save_raw",
	"compress": "collector.compress",
	"retries":  "collector.retries",
}

func defaults() map[string]any {
	return map[string]any{
		"projects":                   []string{},
		"locations":                  []string{},
		"history_days":               core.DefaultHistoryWindowDays,
		"similarity_threshold":       core.DefaultSimilarityThreshold,
		"enable_incremental":         true,
		"concurrency":                core.DefaultConcurrency,
		"collect_timeout":            core.DefaultCollectTimeout,
		"input_dir":                  DefaultInputDir,
		"output_dir":                 DefaultOutputDir,
		"state_path":                 DefaultStateFile,
		"output_mode":                DefaultOutputMode,
		"verbose":                    false,
		"collector.retries":          collector.DefaultMaxRetries,
		"collector.retry_base":       collector.DefaultRetryBase,
		"collector.breaker_failures": collector.DefaultTripAfter,
		"collector.breaker_cooldown": collector.DefaultBreakerCooldown,
		"collector.save_raw":         false,
		"collector.compress":         false,
		"emitter.core_version":       emitter.DefaultCoreVersion,
		"emitter.default_dataset":    emitter.DefaultDataset,
		"emitter.assertion_dataset":  emitter.DefaultAssertionDataset,
	}
}

// findConfigFile returns the explicit path, or the first default file in
// the working directory, or "".
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads configuration with precedence flags > env > file > defaults.
// Only flags that were explicitly set override lower layers. The result is
// validated. It returns the config and the file used, if any.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			return flagKey(flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, "", fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Projects = trimAll(cfg.Projects)
	cfg.Locations = trimAll(cfg.Locations)
	cfg.OutputMode = strings.ToLower(strings.TrimSpace(cfg.OutputMode))

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, used, nil
}

// envKey maps DATAFORM_HISTORY_DAYS to history_days and
// DATAFORM_COLLECTOR_RETRIES to collector.retries.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

func flagKey(flags *pflag.FlagSet, f *pflag.Flag) (string, interface{}) {
	if !f.Changed {
		return "", nil
	}
	switch f.Name {
	case "config":
		return "", nil
	case "disable-incremental":
		disabled, _ := flags.GetBool(f.Name)
		return "enable_incremental", !disabled
	}
	if key, ok := flagKeys[f.Name]; ok {
		return key, posflag.FlagVal(flags, f)
	}
	return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

// NewLogger returns a text logger on w. Verbose enables debug output.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return nil
}
