package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero cpus", func(c *Config) { c.NCPU = 0 }, ErrBadCPUCount},
		{"zero procs", func(c *Config) { c.NProc = 0 }, ErrBadProcCount},
		{"kernel eats all memory", func(c *Config) { c.KernelPages = c.PhysPages }, ErrBadMemory},
		{"negative kernel pages", func(c *Config) { c.KernelPages = -1 }, ErrBadMemory},
		{"zero boost interval", func(c *Config) { c.BoostInterval = 0 }, ErrBadInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadAppliesDefaultsForAbsentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ncpu: 4\nlogLevel: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NCPU)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, Default().NProc, cfg.NProc)
	assert.Equal(t, Default().MonopolySecret, cfg.MonopolySecret)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ncpu: [nope\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("ncpu: 0\n"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrBadCPUCount)
}
