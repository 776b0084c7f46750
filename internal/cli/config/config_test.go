package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/dfmigrate/internal/collector"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// isolate runs the test from an empty directory so no dfmigrate.yaml is
// picked up from the package directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.StringSlice("project", nil, "")
	fs.StringSlice("location", nil, "")
	fs.Int("days", core.DefaultHistoryWindowDays, "")
	fs.Float64("similarity-threshold", core.DefaultSimilarityThreshold, "")
	fs.Bool("disable-incremental", false, "")
	fs.Int("concurrency", core.DefaultConcurrency, "")
	fs.Duration("timeout", core.DefaultCollectTimeout, "")
	fs.String("output-dir", "", "")
	fs.String("state", "", "")
	fs.String("output-mode", "", "")
	fs.Bool("save-raw", false, "")
	return fs
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, used, err := Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, used)

	assert.Empty(t, cfg.Projects)
	assert.Empty(t, cfg.Locations)
	assert.Equal(t, core.DefaultEngineConfig(), cfg.Engine())
	assert.Equal(t, DefaultInputDir, cfg.InputDir)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, DefaultOutputMode, cfg.OutputMode)
	assert.Equal(t, uint64(collector.DefaultMaxRetries), cfg.Collector.Retries)
	assert.Equal(t, collector.DefaultBreakerCooldown, cfg.Collector.BreakerCooldown)
	assert.Equal(t, "dataform_staging", cfg.Emitter.DefaultDataset)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "dfmigrate.yaml", `
projects: [shop, ads]
locations:
  - US
history_days: 7
similarity_threshold: 0.75
collect_timeout: 45s
collector:
  retries: 1
  breaker_cooldown: 1m
emitter:
  default_dataset: staging
`)

	cfg, used, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "dfmigrate.yaml", used)
	assert.Equal(t, []string{"shop", "ads"}, cfg.Projects)
	assert.Equal(t, []string{"US"}, cfg.Locations)
	assert.Equal(t, 7, cfg.HistoryDays)
	assert.InDelta(t, 0.75, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.CollectTimeout)
	assert.Equal(t, uint64(1), cfg.Collector.Retries)
	assert.Equal(t, time.Minute, cfg.Collector.BreakerCooldown)
	assert.Equal(t, "staging", cfg.Emitter.DefaultDataset)
	assert.True(t, cfg.EnableIncremental, "unset keys keep defaults")
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, t.TempDir(), "custom.yml", "concurrency: 9\n")
	writeFile(t, dir, "dfmigrate.yaml", "concurrency: 2\n")

	cfg, used, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, 9, cfg.Concurrency)

	_, _, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "dfmigrate.yaml", "projects: [fromfile]\nhistory_days: 7\n")

	t.Setenv("DATAFORM_PROJECTS", "shop, ads")
	t.Setenv("DATAFORM_LOCATIONS", "US,EU")
	t.Setenv("DATAFORM_HISTORY_DAYS", "14")
	t.Setenv("DATAFORM_SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("DATAFORM_ENABLE_INCREMENTAL", "false")
	t.Setenv("DATAFORM_COLLECT_TIMEOUT", "90s")
	t.Setenv("DATAFORM_COLLECTOR_RETRIES", "5")
	t.Setenv("DATAFORM_OUTPUT_MODE", "JSON")

	cfg, _, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop", "ads"}, cfg.Projects)
	assert.Equal(t, []string{"US", "EU"}, cfg.Locations)
	assert.Equal(t, 14, cfg.HistoryDays)
	assert.InDelta(t, 0.8, cfg.SimilarityThreshold, 1e-9)
	assert.False(t, cfg.EnableIncremental)
	assert.Equal(t, 90*time.Second, cfg.CollectTimeout)
	assert.Equal(t, uint64(5), cfg.Collector.Retries)
	assert.Equal(t, "json", cfg.OutputMode)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("DATAFORM_PROJECTS", "fromenv")
	t.Setenv("DATAFORM_HISTORY_DAYS", "14")
	t.Setenv("DATAFORM_CONCURRENCY", "3")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{
		"--project", "shop", "--project", "ads",
		"--location", "US",
		"--days", "3",
		"--disable-incremental",
		"--timeout", "10s",
		"--state", "run.db",
		"--save-raw",
	}))

	cfg, _, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop", "ads"}, cfg.Projects)
	assert.Equal(t, []string{"US"}, cfg.Locations)
	assert.Equal(t, 3, cfg.HistoryDays)
	assert.False(t, cfg.EnableIncremental)
	assert.Equal(t, 10*time.Second, cfg.CollectTimeout)
	assert.Equal(t, "run.db", cfg.StatePath)
	assert.True(t, cfg.Collector.SaveRaw)
	assert.Equal(t, 3, cfg.Concurrency, "unchanged flags do not override env")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "threshold above one", env: map[string]string{"DATAFORM_SIMILARITY_THRESHOLD": "1.5"}},
		{name: "zero days", env: map[string]string{"DATAFORM_HISTORY_DAYS": "0"}},
		{name: "zero concurrency", env: map[string]string{"DATAFORM_CONCURRENCY": "0"}},
		{name: "zero timeout", env: map[string]string{"DATAFORM_COLLECT_TIMEOUT": "0s"}},
		{name: "unknown output mode", env: map[string]string{"DATAFORM_OUTPUT_MODE": "markdown"}},
		{name: "empty project", env: map[string]string{"DATAFORM_PROJECTS": "a,,b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, _, err := Load("", nil)
			require.Error(t, err)
		})
	}
}

func TestValidatePairs(t *testing.T) {
	cfg := &Config{}
	require.ErrorContains(t, cfg.ValidatePairs(), "project")

	cfg.Projects = []string{"shop"}
	require.ErrorContains(t, cfg.ValidatePairs(), "location")

	cfg.Locations = []string{"US"}
	require.NoError(t, cfg.ValidatePairs())
}

func TestConfig_Pairs(t *testing.T) {
	cfg := &Config{Projects: []string{"b", "a"}, Locations: []string{"US", "EU"}}
	assert.Equal(t, []core.Pair{
		{Project: "b", Location: "US"},
		{Project: "b", Location: "EU"},
		{Project: "a", Location: "US"},
		{Project: "a", Location: "EU"},
	}, cfg.Pairs())
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "history_days", envKey("DATAFORM_HISTORY_DAYS"))
	assert.Equal(t, "collector.breaker_cooldown", envKey("DATAFORM_COLLECTOR_BREAKER_COOLDOWN"))
	assert.Equal(t, "emitter.core_version", envKey("DATAFORM_EMITTER_CORE_VERSION"))
	assert.Equal(t, "collect_timeout", envKey("DATAFORM_COLLECT_TIMEOUT"))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(&buf, false))
	GetLogger(ctx).Debug("hidden")
	GetLogger(ctx).Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	NewLogger(&buf, true).Debug("debug")
	assert.Contains(t, buf.String(), "debug")

	assert.NotNil(t, GetLogger(context.Background()))
}
