package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Config represents the vertex configuration loaded from vertex.yaml.
type Config struct {
	// Schema is the path to the schema declaration file (spec §6.2's
	// Declaration JSON).
	Schema string `mapstructure:"schema"`

	Database   DatabaseConfig   `mapstructure:"database"`
	Generate   GenerateConfig   `mapstructure:"generate"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
}

// DatabaseConfig holds the single DATABASE_URL setting provider/dsn.go
// dispatches on (spec §6.3) — unlike a conventional host/port/user/pass
// tuple, since every vertex backend is reached through one connection
// string form.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// GenerateConfig holds code generation settings.
type GenerateConfig struct {
	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig holds typed-accessor client generation settings
// (schema/codegen.go's GenerateClient, which emits Go only; Runtime is
// echoed by `vertex generate client` but selects no other generator).
type ClientConfig struct {
	Runtime string `mapstructure:"runtime"` // "go", "python", "typescript"
	Schema  string `mapstructure:"schema"`
	Output  string `mapstructure:"output"`
	Package string `mapstructure:"package"`
}

// WatchConfig holds schema/watch.go's hot-reload settings.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// EmbeddingsConfig holds the generate.EmbeddingGenerator model/dimension
// settings a semantic/hybrid-search-capable provider is configured with
// (provider.EmbeddingsConfigurable).
type EmbeddingsConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none
// found), and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("VERTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// DATABASE_URL is the spec's own environment variable name (§6.3),
	// read directly rather than through the VERTEX_ env prefix so it
	// matches every other tool that honors it.
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema", "schema.json")

	v.SetDefault("database.url", "")

	v.SetDefault("generate.client.runtime", "go")
	v.SetDefault("generate.client.schema", "")
	v.SetDefault("generate.client.output", "client")
	v.SetDefault("generate.client.package", "client")

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce", 200*time.Millisecond)

	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimensions", 1536)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for vertex.yaml or vertex.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"vertex.yaml", "vertex.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// ResolvedSchema returns the effective schema declaration path, with
// generate.client.schema taking precedence over the top-level schema (for
// the generate command targeting a different declaration than the one
// the server watches).
func (c *Config) ResolvedSchema() string {
	if c.Generate.Client.Schema != "" {
		return c.Generate.Client.Schema
	}
	return c.Schema
}
