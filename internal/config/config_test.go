package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/objective"
	"github.com/copyleftdev/episim-calibrate/internal/rates"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "calibration-studies", cfg.Storage.Dir)
	assert.Empty(t, cfg.Simulation.Command)
	assert.Zero(t, cfg.Simulation.Timeout)
	assert.Equal(t, SamplerGP, cfg.Sampler.Name)
	assert.Equal(t, 5, cfg.Sampler.StartupTrials)
	assert.Empty(t, cfg.HTTP.ListenAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("CALIB_STORAGE_DIR", "/tmp/studies")
	t.Setenv("CALIB_SIM_COMMAND", "java -Xmx8g -jar episim.jar")
	t.Setenv("CALIB_SIM_TIMEOUT", "6h")
	t.Setenv("CALIB_SAMPLER", "random")
	t.Setenv("CALIB_SEED", "42")
	t.Setenv("CALIB_LISTEN_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/studies", cfg.Storage.Dir)
	assert.Equal(t, []string{"java", "-Xmx8g", "-jar", "episim.jar"}, cfg.Simulation.Command)
	assert.Equal(t, 6*time.Hour, cfg.Simulation.Timeout)
	assert.Equal(t, SamplerRandom, cfg.Sampler.Name)
	assert.Equal(t, int64(42), cfg.Sampler.Seed)
	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown sampler", "CALIB_SAMPLER", "tpe"},
		{"bad timeout", "CALIB_SIM_TIMEOUT", "soon"},
		{"negative timeout", "CALIB_SIM_TIMEOUT", "-1m"},
		{"no startup trials", "CALIB_STARTUP_TRIALS", "0"},
		{"bad seed", "CALIB_SEED", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig), "got %v", err)
		})
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings(t *testing.T) {
	settings, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, objective.DefaultSettings(), settings)

	path := writeFile(t, `
unconstrained:
  output_root: /data/output-calibration
  infection:
    day_start: 20
offset:
  calibration_parameter: 0.0000012
  reference_path: hospital.csv
  start: "2020-03-01"
  alignment: positional
  columns:
    date: Date
`)
	settings, err = LoadSettings(path)
	require.NoError(t, err)

	def := objective.DefaultSettings()
	assert.Equal(t, "/data/output-calibration", settings.Unconstrained.OutputRoot)
	assert.Equal(t, 20, settings.Unconstrained.Infection.DayStart)
	assert.Equal(t, def.Unconstrained.Infection.DayEnd, settings.Unconstrained.Infection.DayEnd)
	assert.Equal(t, def.Unconstrained.ParamHigh, settings.Unconstrained.ParamHigh)
	assert.Equal(t, 1.2e-6, settings.Offset.CalibrationParameter)
	assert.Equal(t, "hospital.csv", settings.Offset.ReferencePath)
	assert.Equal(t, "2020-03-01", settings.Offset.Start)
	assert.Equal(t, def.Offset.End, settings.Offset.End)
	assert.Equal(t, rates.AlignPositional, settings.Offset.Alignment)
	assert.Equal(t, "Date", settings.Offset.Columns.Date)
	assert.Equal(t, def.Offset.Columns.Critical, settings.Offset.Columns.Critical)

	// An empty file keeps every default.
	settings, err = LoadSettings(writeFile(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, def, settings)
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		kind    errors.Kind
	}{
		{"unknown key", "offset:\n  days_total: 3\n", errors.KindParse},
		{"malformed", "offset: [\n", errors.KindParse},
		{"invalid value", "offset:\n  days: -1\n", errors.KindConfig},
		{"invalid date", "offset:\n  end: 08.05.2020\n", errors.KindConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err), "got %v", err)
		})
	}

	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}
