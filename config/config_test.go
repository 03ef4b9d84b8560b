package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/server_fixtures/config"
)

// writeTemp creates a file with content and returns its
// path.
func writeTemp(
	tb testing.TB,
	dir string,
	name string,
	content string,
) string {
	tb.Helper()

	pa := filepath.Join(dir, name)
	require.NoError(tb, os.WriteFile(pa, []byte(content), 0o600))

	return pa
}

func clearEnv(t *testing.T) {
	t.Helper()

	t.Setenv(config.EnvConfigFile, "")
	t.Setenv(config.EnvNamespace, "")
	t.Setenv(config.EnvSessionID, "")
}

func TestLoadFrom_outside_cluster(t *testing.T) {
	clearEnv(t)

	marker := filepath.Join(t.TempDir(), "namespace")

	cfg, err := config.LoadFrom(marker)
	require.NoError(t, err)

	assert.False(t, cfg.InCluster)
	assert.Empty(t, cfg.Namespace)
	assert.NotEmpty(t, cfg.SessionID)
	assert.Equal(t, marker, cfg.MarkerPath)
}

func TestLoadFrom_namespace_from_marker(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	marker := writeTemp(
		t, dir, "namespace", "integration-tests\n",
	)

	cfg, err := config.LoadFrom(marker)
	require.NoError(t, err)

	assert.True(t, cfg.InCluster)
	assert.Equal(t, "integration-tests", cfg.Namespace)
}

func TestLoadFrom_env_overrides_marker(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	marker := writeTemp(
		t, dir, "namespace", "from-marker\n",
	)

	t.Setenv(config.EnvNamespace, "from-env")
	t.Setenv(config.EnvSessionID, "session-42")

	cfg, err := config.LoadFrom(marker)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Namespace)
	assert.Equal(t, "session-42", cfg.SessionID)
}

func TestLoadFrom_yaml_file(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfgFile := writeTemp(
		t, dir, "fixtures.yaml",
		"namespace: staging\n"+
			"session_id: file-session\n"+
			"labels:\n"+
			"  team: data\n",
	)

	t.Setenv(config.EnvConfigFile, cfgFile)

	marker := filepath.Join(dir, "namespace")

	cfg, err := config.LoadFrom(marker)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Namespace)
	assert.Equal(t, "file-session", cfg.SessionID)
	assert.Equal(
		t,
		map[string]string{"team": "data"},
		cfg.Labels,
	)
}

func TestLoadFrom_env_overrides_yaml_file(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfgFile := writeTemp(
		t, dir, "fixtures.yaml",
		"namespace: from-file\n",
	)

	t.Setenv(config.EnvConfigFile, cfgFile)
	t.Setenv(config.EnvNamespace, "from-env")

	marker := filepath.Join(dir, "namespace")

	cfg, err := config.LoadFrom(marker)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Namespace)
}

func TestLoadFrom_missing_config_file(t *testing.T) {
	clearEnv(t)

	t.Setenv(
		config.EnvConfigFile,
		"/nonexistent/fixtures.yaml",
	)

	_, err := config.LoadFrom(
		filepath.Join(t.TempDir(), "namespace"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading fixture config")
}

func TestLoadFrom_malformed_config_file(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfgFile := writeTemp(
		t, dir, "fixtures.yaml", "namespace: [",
	)

	t.Setenv(config.EnvConfigFile, cfgFile)

	_, err := config.LoadFrom(
		filepath.Join(dir, "namespace"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadFrom_generated_session_ids_differ(t *testing.T) {
	clearEnv(t)

	marker := filepath.Join(t.TempDir(), "namespace")

	first, err := config.LoadFrom(marker)
	require.NoError(t, err)

	second, err := config.LoadFrom(marker)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
}
