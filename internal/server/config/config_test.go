package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"test"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestLoadConfig_Defaults(t *testing.T) {
	withArgs(t)

	cfg := LoadConfig()

	assert.Equal(t, ":8443", cfg.EndpointAddrHTTP)
	assert.Equal(t, 24*time.Hour, cfg.RecoveryRequestTTL)
	assert.Equal(t, 1*time.Hour, cfg.ExpirySweepInterval)
	assert.NotEmpty(t, cfg.DatabaseDSN)
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	withArgs(t, "-a", ":9000", "-s", "flagsecret", "-r", "48", "-w", "0")

	cfg := LoadConfig()

	assert.Equal(t, ":9000", cfg.EndpointAddrHTTP)
	assert.Equal(t, "flagsecret", cfg.SecretKey)
	assert.Equal(t, 48*time.Hour, cfg.RecoveryRequestTTL)
	assert.Equal(t, time.Duration(0), cfg.ExpirySweepInterval)
}

func TestLoadConfig_JsonOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")

	jc := JsonConfig{
		EndpointAddrHTTP: ":7777",
		DatabaseDSN:      "postgres://json",
		SecretKey:        "jsonsecret",
	}
	jc.RecoveryRequestTTL.Duration = 12 * time.Hour
	jc.AccessTokenValidityDuration.Duration = time.Minute
	jc.ExpirySweepInterval.Duration = 30 * time.Minute

	raw, err := json.Marshal(jc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	withArgs(t, "-c", path)

	cfg := LoadConfig()

	assert.Equal(t, ":7777", cfg.EndpointAddrHTTP)
	assert.Equal(t, "postgres://json", cfg.DatabaseDSN)
	assert.Equal(t, "jsonsecret", cfg.SecretKey)
	assert.Equal(t, 12*time.Hour, cfg.RecoveryRequestTTL)
	assert.Equal(t, 30*time.Minute, cfg.ExpirySweepInterval)
}
