package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.APIKey = "test-key"
	return cfg
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "SHOPOPS_STORE", "SHOPOPS_DB", "SHOPOPS_ADMINS", "SHOPOPS_PRINT_DRIVER",
		"GOOGLE_CLOUD_PROJECT", "GOOGLE_APPLICATION_CREDENTIALS",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigIsValidWithKey(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "shopops.yaml")
	data := `
store:
  backend: firestore
  project: taller-prod
printer:
  standard_queue: Brother
  technical_queue: Plotter
  technical_tokens: ["a3", "plano"]
  serialize_per_queue: true
auth:
  admins: ["5215512345678"]
transport:
  headless: false
  default_country_code: "521"
  local_number_length: 10
  selectors:
    compose: "div.composer"
metrics:
  listen: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.Store.Backend)
	assert.Equal(t, "taller-prod", cfg.Store.Project)
	assert.Equal(t, "Brother", cfg.Printer.StandardQueue)
	assert.Equal(t, []string{"a3", "plano"}, cfg.Printer.TechnicalTokens)
	assert.True(t, cfg.Printer.SerializePerQueue)
	assert.Equal(t, []string{"5215512345678"}, cfg.Auth.Admins)
	assert.False(t, cfg.Transport.Headless)
	assert.Equal(t, "521", cfg.Transport.DefaultCountryCode)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)

	// Untouched sections keep their defaults.
	assert.Equal(t, "fit", cfg.Printer.Scaling)
	assert.Equal(t, "https://web.whatsapp.com", cfg.Transport.URL)
	assert.Equal(t, "div.composer", cfg.Transport.Selectors.Compose)
	assert.Empty(t, cfg.Transport.Selectors.Ready)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "shopops.yaml")
	cfg := DefaultConfig()
	cfg.Printer.TechnicalQueue = "Plotter"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Plotter", loaded.Printer.TechnicalQueue)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "mongo"
	cfg.Printer.DriverPath = ""
	cfg.Command.ExitDelay = "soon"

	err := cfg.Validate()
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Len(t, cerr.Problems, 4)
	assert.Contains(t, err.Error(), `store.backend "mongo"`)
	assert.Contains(t, err.Error(), "printer.driver_path")
	assert.Contains(t, err.Error(), "command.exit_delay")
	assert.Contains(t, err.Error(), "ai.api_key")
}

func TestValidateBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = BackendFirestore
	assert.Error(t, cfg.Validate(), "firestore needs a project")
	cfg.Store.Project = "p"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.AI.Enabled = false
	cfg.AI.APIKey = ""
	assert.NoError(t, cfg.Validate(), "no key needed with the assistant off")
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2*time.Minute, cfg.GetPrintTimeout())
	assert.Equal(t, 1500*time.Millisecond, cfg.GetExitDelay())
	assert.Equal(t, 5*time.Minute, cfg.GetClaimLease())
	initial, max := cfg.GetBackoff()
	assert.Equal(t, time.Second, initial)
	assert.Equal(t, 60*time.Second, max)

	cfg.Printer.Timeout = "garbage"
	assert.Equal(t, 2*time.Minute, cfg.GetPrintTimeout())
}

func TestSessionDirs(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{cfg.Transport.AuthDir, cfg.Transport.CacheDir}, cfg.SessionDirs())
	cfg.Transport.CacheDir = ""
	assert.Equal(t, []string{cfg.Transport.AuthDir}, cfg.SessionDirs())
}
