package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Server struct {
		HTTPPort int      `koanf:"http_port"`
		Timeout  Duration `koanf:"timeout"`
	} `koanf:"server"`
	Service struct {
		Name    string `koanf:"name"`
		Version string `koanf:"version"`
	} `koanf:"service"`
	Token Secret   `koanf:"token"`
	Tags  []string `koanf:"tags"`
}

func newSample() *sampleConfig {
	cfg := &sampleConfig{}
	cfg.Server.HTTPPort = 8080
	cfg.Server.Timeout = Duration(5 * time.Second)
	cfg.Service.Name = "default-svc"
	cfg.Service.Version = "0.1.0"
	return cfg
}

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_DefaultsSurviveWithoutSources(t *testing.T) {
	cfg := newSample()

	err := Load("", cfg)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout.Duration())
	assert.Equal(t, "default-svc", cfg.Service.Name)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg := newSample()

	err := Load(filepath.Join(t.TempDir(), "absent.yaml"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "default-svc", cfg.Service.Name)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `server:
  http_port: 9191
  timeout: 2s
service:
  name: yaml-svc
`, 0o600)

	cfg := newSample()
	require.NoError(t, Load(path, cfg))

	assert.Equal(t, 9191, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.Server.Timeout.Duration())
	assert.Equal(t, "yaml-svc", cfg.Service.Name)
	assert.Equal(t, "0.1.0", cfg.Service.Version, "keys absent from yaml keep defaults")
}

func TestLoad_EnvironmentOverridesYAML(t *testing.T) {
	path := writeConfig(t, "service:\n  name: yaml-svc\n", 0o600)
	t.Setenv("TESTAPP_SERVICE_NAME", "env-svc")
	t.Setenv("TESTAPP_SERVER_HTTP_PORT", "7777")
	t.Setenv("APP_VERSION", "2.0.0")

	cfg := newSample()
	require.NoError(t, Load(path, cfg,
		PrefixedEnv("testapp", Keys(&sampleConfig{})),
		AliasEnv(map[string]string{"APP_VERSION": "service.version"}),
	))

	assert.Equal(t, "env-svc", cfg.Service.Name)
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "2.0.0", cfg.Service.Version)
}

func TestLoad_LaterMapperWins(t *testing.T) {
	t.Setenv("TESTAPP_SERVICE_NAME", "prefixed")
	t.Setenv("SERVICE_ALIAS", "aliased")

	cfg := newSample()
	require.NoError(t, Load("", cfg,
		PrefixedEnv("testapp", Keys(&sampleConfig{})),
		AliasEnv(map[string]string{"SERVICE_ALIAS": "service.name"}),
	))

	assert.Equal(t, "aliased", cfg.Service.Name)
}

func TestLoad_EnvListsAndSecrets(t *testing.T) {
	t.Setenv("TESTAPP_TAGS", "a,b,c")
	t.Setenv("TESTAPP_TOKEN", "s3cret")
	t.Setenv("TESTAPP_SERVER_TIMEOUT", "750ms")

	cfg := newSample()
	require.NoError(t, Load("", cfg, PrefixedEnv("testapp", Keys(&sampleConfig{}))))

	assert.Equal(t, []string{"a", "b", "c"}, cfg.Tags)
	assert.Equal(t, "s3cret", cfg.Token.Value())
	assert.Equal(t, 750*time.Millisecond, cfg.Server.Timeout.Duration())
}

func TestLoad_EmptyEnvCountsAsUnset(t *testing.T) {
	path := writeConfig(t, "service:\n  name: from-yaml\n", 0o600)
	t.Setenv("TESTAPP_SERVICE_NAME", "prefixed")
	t.Setenv("SERVICE_ALIAS", "")
	t.Setenv("TESTAPP_SERVICE_VERSION", "")

	cfg := newSample()
	require.NoError(t, Load(path, cfg,
		PrefixedEnv("testapp", Keys(&sampleConfig{})),
		AliasEnv(map[string]string{"SERVICE_ALIAS": "service.name"}),
	))

	assert.Equal(t, "prefixed", cfg.Service.Name, "an empty later layer does not mask an earlier one")
	assert.Equal(t, "0.1.0", cfg.Service.Version, "an empty variable keeps the default")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated\n", 0o600)

	err := Load(path, newSample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_RejectsWritableByOthers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "service:\n  name: x\n", 0o666)

	err := Load(path, newSample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, string(big), 0o600)

	err := Load(path, newSample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestPrefixedEnv(t *testing.T) {
	mapper := PrefixedEnv("traceboot", []string{
		"server.http_port",
		"tracing.auto_instrument",
		"tracing.batch.max_size",
		"debug",
	})

	tests := []struct {
		name string
		want string
	}{
		{"TRACEBOOT_SERVER_HTTP_PORT", "server.http_port"},
		{"TRACEBOOT_TRACING_AUTO_INSTRUMENT", "tracing.auto_instrument"},
		{"TRACEBOOT_TRACING_BATCH_MAX_SIZE", "tracing.batch.max_size"},
		{"TRACEBOOT_DEBUG", "debug"},
		{"TRACEBOOT_UNKNOWN_KEY", ""},
		{"OTHER_SERVER_HTTP_PORT", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapper(tt.name))
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys(&sampleConfig{})
	assert.Equal(t, []string{
		"server.http_port",
		"server.timeout",
		"service.name",
		"service.version",
		"tags",
		"token",
	}, keys)

	assert.Nil(t, Keys("not a struct"))
}

func TestAliasEnv(t *testing.T) {
	mapper := AliasEnv(map[string]string{"ENVIRONMENT": "service.environment"})

	assert.Equal(t, "service.environment", mapper("ENVIRONMENT"))
	assert.Equal(t, "", mapper("UNKNOWN"))
}
