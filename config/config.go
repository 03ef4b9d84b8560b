// Package config resolves server-fixtures configuration
// once at process startup: target namespace, test session
// identifier, and in-cluster detection. Controllers
// receive the resolved Config explicitly instead of
// consulting process state on their own.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
)

// DefaultMarkerPath is the in-cluster service-account
// marker file. Its presence means the process runs as a
// pod; its content is the namespace fallback.
const DefaultMarkerPath = "/var/run/secrets/kubernetes.io/namespace"

// Env var names understood by Load.
const (
	EnvConfigFile = "SERVER_FIXTURES_CONFIG"
	EnvNamespace  = "SERVER_FIXTURES_K8S_NAMESPACE"
	EnvSessionID  = "SERVER_FIXTURES_SESSION_ID"
)

// Config holds the resolved fixture settings. Resolve it
// once with Load and pass it to every controller.
type Config struct {
	// Namespace is the namespace fixture pods are
	// created in.
	Namespace string

	// SessionID scopes all pods launched by one test
	// run. It is applied as a label to every fixture
	// pod.
	SessionID string

	// MarkerPath is the in-cluster detection file.
	MarkerPath string

	// InCluster reports whether the marker file was
	// present at resolution time.
	InCluster bool

	// Labels are default caller labels applied to every
	// fixture in addition to per-fixture labels.
	Labels map[string]string
}

// fileConfig is the optional YAML configuration file
// shape.
type fileConfig struct {
	Namespace string            `yaml:"namespace"`
	SessionID string            `yaml:"session_id"`
	Labels    map[string]string `yaml:"labels"`
}

// Load resolves configuration in priority order:
// YAML file (SERVER_FIXTURES_CONFIG) < environment.
// When running in-cluster without an explicit namespace,
// the namespace is read from the marker file. A missing
// session id is generated.
func Load() (*Config, error) {
	return LoadFrom(DefaultMarkerPath)
}

// LoadFrom is Load with an explicit marker file path.
func LoadFrom(markerPath string) (*Config, error) {
	const errCtx = "loading fixture config"

	cfg := &Config{MarkerPath: markerPath}

	if path := os.Getenv(EnvConfigFile); path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		cfg.Namespace = fc.Namespace
		cfg.SessionID = fc.SessionID
		cfg.Labels = fc.Labels
	}

	if ns := os.Getenv(EnvNamespace); ns != "" {
		cfg.Namespace = ns
	}

	if sid := os.Getenv(EnvSessionID); sid != "" {
		cfg.SessionID = sid
	}

	if _, err := os.Stat(markerPath); err == nil {
		cfg.InCluster = true
	}

	if cfg.Namespace == "" && cfg.InCluster {
		content, err := os.ReadFile(markerPath) //nolint:gosec // well-known path
		if err != nil {
			return nil, fmt.Errorf(
				"%s: reading namespace marker: %w",
				errCtx, err,
			)
		}

		cfg.Namespace = strings.TrimSpace(string(content))
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	return cfg, nil
}

// readFile parses the YAML configuration file.
func readFile(path string) (*fileConfig, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path from env
	if err != nil {
		return nil, fmt.Errorf(
			"reading config file: %w", err,
		)
	}

	fc := &fileConfig{}
	if err := yaml.Unmarshal(content, fc); err != nil {
		return nil, fmt.Errorf(
			"parsing config file %s: %w", path, err,
		)
	}

	return fc, nil
}
