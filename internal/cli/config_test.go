package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigFile_ExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "custom.yaml")
	err := os.WriteFile(tmpFile, []byte("schema: test.json"), 0o644)
	require.NoError(t, err)

	path, err := findConfigFile(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, tmpFile, path)
}

func TestFindConfigFile_ExplicitPathNotFound(t *testing.T) {
	_, err := findConfigFile("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestFindConfigFile_AutoDiscovery(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "vertex.yaml")
	err = os.WriteFile(configPath, []byte("schema: test.json"), 0o644)
	require.NoError(t, err)

	nested := filepath.Join(root, "deep", "nested")
	err = os.MkdirAll(nested, 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(nested)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)

	expectedPath, _ := filepath.EvalSymlinks(configPath)
	actualPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, expectedPath, actualPath)
}

func TestFindConfigFile_PrefersYamlOverYml(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	yamlPath := filepath.Join(root, "vertex.yaml")
	ymlPath := filepath.Join(root, "vertex.yml")
	err = os.WriteFile(yamlPath, []byte("schema: yaml.json"), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(ymlPath, []byte("schema: yml.json"), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)

	expectedPath, _ := filepath.EvalSymlinks(yamlPath)
	actualPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, expectedPath, actualPath)
}

func TestFindConfigFile_StopsAtGitRoot(t *testing.T) {
	root := t.TempDir()
	err := os.WriteFile(filepath.Join(root, "vertex.yaml"), []byte("schema: above.json"), 0o644)
	require.NoError(t, err)

	project := filepath.Join(root, "project")
	err = os.MkdirAll(project, 0o755)
	require.NoError(t, err)
	err = os.Mkdir(filepath.Join(project, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(project)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFindConfigFile_NoConfigReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoadConfig_Defaults(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	cfg, configPath, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, configPath)

	assert.Equal(t, "schema.json", cfg.Schema)
	assert.Equal(t, "go", cfg.Generate.Client.Runtime)
	assert.Equal(t, "client", cfg.Generate.Client.Package)
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
}

func TestLoadConfig_FromFile(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "vertex.yaml")
	err = os.WriteFile(configPath, []byte(`
schema: custom/schema.json
database:
  url: "sqlite://./data"
generate:
  client:
    runtime: typescript
    package: myclient
`), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	cfg, foundPath, err := LoadConfig("")
	require.NoError(t, err)

	expectedPath, _ := filepath.EvalSymlinks(configPath)
	actualPath, _ := filepath.EvalSymlinks(foundPath)
	assert.Equal(t, expectedPath, actualPath)

	assert.Equal(t, "custom/schema.json", cfg.Schema)
	assert.Equal(t, "sqlite://./data", cfg.Database.URL)
	assert.Equal(t, "typescript", cfg.Generate.Client.Runtime)
	assert.Equal(t, "myclient", cfg.Generate.Client.Package)

	// Defaults still apply for unset values.
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "vertex.yaml")
	err = os.WriteFile(configPath, []byte("schema: file.json"), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	t.Setenv("VERTEX_SCHEMA", "env.json")

	cfg, _, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "env.json", cfg.Schema)
}

func TestLoadConfig_DatabaseURLEnvVarTakesPrecedence(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "vertex.yaml")
	err = os.WriteFile(configPath, []byte("database:\n  url: \"file://configured\"\n"), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	t.Setenv("DATABASE_URL", "sqlite://./from-env")

	cfg, _, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite://./from-env", cfg.Database.URL)
}

func TestLoadConfig_NestedEnvVars(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	t.Setenv("VERTEX_GENERATE_CLIENT_RUNTIME", "python")
	t.Setenv("VERTEX_EMBEDDINGS_MODEL", "text-embedding-3-large")

	cfg, _, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "python", cfg.Generate.Client.Runtime)
	assert.Equal(t, "text-embedding-3-large", cfg.Embeddings.Model)
}

func TestResolvedSchema(t *testing.T) {
	cfg := &Config{
		Schema: "top-level.json",
		Generate: GenerateConfig{
			Client: ClientConfig{
				Schema: "client-specific.json",
			},
		},
	}

	assert.Equal(t, "client-specific.json", cfg.ResolvedSchema())

	cfg.Generate.Client.Schema = ""
	assert.Equal(t, "top-level.json", cfg.ResolvedSchema())
}
