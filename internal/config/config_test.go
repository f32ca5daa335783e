package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/record"
)

func TestNewDefaultsAreValid(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "azsecret.yaml")
	yamlContent := `
socket_path: /run/test/azsecret.sock
backend:
  kind: relational
  dsn: "postgres://user@localhost/azsecret"
max_inflight: 8
max_secret_bytes: 1024
policy:
  - principal: "alice"
    ops: ["get", "set"]
    id_pattern: "db-*"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/run/test/azsecret.sock", cfg.SocketPath)
	assert.Equal(t, backend.KindRelational, cfg.Backend.Kind)
	assert.Equal(t, 8, cfg.MaxInflight)
	assert.Equal(t, 1024, cfg.MaxSecretBytes)
	require.Len(t, cfg.Policy, 1)

	rules := cfg.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "alice", rules[0].PrincipalMatch)
	assert.Equal(t, "db-*", rules[0].IDPattern)
	assert.Equal(t, []record.Operation{record.OpGet, record.OpSet}, rules[0].Allow)
}

func TestLoadFileMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, New().SocketPath, cfg.SocketPath)
}

func TestValidateRejectsUnknownBackendKind(t *testing.T) {
	cfg := New()
	cfg.Backend.Kind = "not-a-kind"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingBackendPath(t *testing.T) {
	cfg := New()
	cfg.Backend.Kind = backend.KindEmbeddedKV
	cfg.Backend.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingRelationalDSN(t *testing.T) {
	cfg := New()
	cfg.Backend.Kind = backend.KindRelational
	cfg.Backend.DSN = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := New()
	cfg.MaxInflight = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.MaxSecretBytes = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.RequestTimeoutMS = 0
	assert.Error(t, cfg.Validate())
}
