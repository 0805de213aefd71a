// Package config provides configuration primitives and the layered loader
// shared by every traceboot component.
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// EnvMapper maps an environment variable name to a koanf key path.
// Returning "" skips the variable. Variables set to the empty string are
// skipped before the mapper is consulted, so NAME= behaves like unset.
type EnvMapper func(name string) string

// Load fills out from a YAML file, then overrides with environment variables.
// Each mapper is applied as its own layer, so a later mapper wins over an
// earlier one when both name the same key.
//
// Precedence (highest to lowest):
//  1. Environment variables, later mappers first
//  2. YAML config file at path (skipped when path is empty or missing)
//  3. Values already present in out (callers pre-populate defaults)
//
// Keys absent from both file and environment leave the corresponding field in
// out untouched, which is how defaults survive the merge.
func Load(path string, out any, mappers ...EnvMapper) error {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	for _, mapEnv := range mappers {
		if mapEnv == nil {
			continue
		}
		if err := k.Load(env.ProviderWithValue("", ".", nonEmpty(mapEnv)), nil); err != nil {
			return fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	if err := k.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag:           "koanf",
		DecoderConfig: decoderConfig(out),
	}); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func nonEmpty(mapEnv EnvMapper) func(name, value string) (string, interface{}) {
	return func(name, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return mapEnv(name), value
	}
}

// decoderConfig decodes text types through UnmarshalText and splits
// comma-separated strings into slices, so list settings work from env.
func decoderConfig(out any) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:           out,
		WeaklyTypedInput: true,
	}
}

// PrefixedEnv returns an EnvMapper for PREFIX_ variables naming one of
// keys, with dots and underscores both spelled "_". Variables that match no
// key are skipped, which keeps stray PREFIX_ variables out of the config.
//
//	TRACEBOOT_SERVER_HTTP_PORT -> server.http_port
//	TRACEBOOT_TRACING_BATCH_MAX_SIZE -> tracing.batch.max_size
func PrefixedEnv(prefix string, keys []string) EnvMapper {
	prefix = strings.ToUpper(prefix) + "_"
	byName := make(map[string]string, len(keys))
	for _, key := range keys {
		byName[prefix+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return func(name string) string {
		return byName[name]
	}
}

// AliasEnv maps well-known variable names (OTEL_*, APP_VERSION, ...) to keys.
func AliasEnv(aliases map[string]string) EnvMapper {
	return func(name string) string {
		return aliases[name]
	}
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate using the already-opened descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects oversized files and files writable by
// group or others. Collector headers may carry credentials.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}

	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group/world writable)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
