package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidConfig(t *testing.T) {
	cfg := NewServerConfig(Document{
		"listen":  []any{nil, float64(7890)},
		"devices": []any{map[string]any{"type": "fadecandy"}},
		"color":   map[string]any{"gamma": 2.5},
		"verbose": true,
	})

	require.Empty(t, cfg.Problems())
	require.NotNil(t, cfg.ListenAddr)
	assert.Equal(t, 7890, cfg.ListenAddr.Port)
	assert.True(t, cfg.Verbose)
	assert.NotNil(t, cfg.Color)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, "fadecandy", cfg.Devices[0]["type"])
}

func TestValidationAccumulatesAllProblems(t *testing.T) {
	// Missing listen plus a non-array devices key: both problems must be
	// reported, neither as an immediate abort.
	cfg := NewServerConfig(Document{
		"devices": "not-an-array",
	})

	problems := cfg.Problems()
	require.GreaterOrEqual(t, len(problems), 2)
	assert.Contains(t, problems[0], "'listen'")
	assert.Contains(t, problems[1], "'devices'")
	assert.Nil(t, cfg.ListenAddr)
	assert.Nil(t, cfg.Devices)
}

func TestListenValidation(t *testing.T) {
	cases := []struct {
		name     string
		listen   any
		problem  string
		resolved bool
	}{
		{"missing", nil, "must be a [host, port] list", false},
		{"not a list", "localhost:7890", "must be a [host, port] list", false},
		{"wrong length", []any{nil, float64(7890), "extra"}, "must be a [host, port] list", false},
		// A bad host type is reported but the port still resolves as
		// "any host", matching the accumulate-and-continue model.
		{"bad host type", []any{float64(1), float64(7890)}, "must be null (any) or a hostname string", true},
		{"bad port type", []any{nil, "7890"}, "port must be an integer", false},
		{"fractional port", []any{nil, 78.5}, "port must be an integer", false},
		{"port out of range", []any{nil, float64(70000)}, "port must be an integer", false},
		{"unresolvable host", []any{"no-such-host.invalid.", float64(7890)}, "failed to resolve", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewServerConfig(Document{
				"listen":  tc.listen,
				"devices": []any{},
			})
			assert.Equal(t, tc.resolved, cfg.ListenAddr != nil)
			require.NotEmpty(t, cfg.Problems())
			assert.Contains(t, cfg.Problems()[0], tc.problem)
		})
	}
}

func TestHostnameResolution(t *testing.T) {
	cfg := NewServerConfig(Document{
		"listen":  []any{"localhost", float64(7890)},
		"devices": []any{},
	})
	require.Empty(t, cfg.Problems())
	require.NotNil(t, cfg.ListenAddr)
	assert.Equal(t, 7890, cfg.ListenAddr.Port)
	assert.True(t, cfg.ListenAddr.IP.IsLoopback())
}

func TestNonMapDeviceEntriesNeverMatch(t *testing.T) {
	cfg := NewServerConfig(Document{
		"listen":  []any{nil, float64(7890)},
		"devices": []any{"oops", map[string]any{"type": "enttec"}},
	})
	require.Empty(t, cfg.Problems())
	require.Len(t, cfg.Devices, 2)
	assert.Nil(t, cfg.Devices[0])
	assert.Equal(t, "enttec", cfg.Devices[1]["type"])
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(
		`{"listen": [null, 7890], "devices": [{"type": "fadecandy"}], "verbose": true}`), 0o644))

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(
		"listen: [null, 7890]\ndevices:\n  - type: fadecandy\nverbose: true\n"), 0o644))

	for _, path := range []string{jsonPath, yamlPath} {
		doc, err := Load(path)
		require.NoError(t, err, path)

		cfg := NewServerConfig(doc)
		assert.Empty(t, cfg.Problems(), path)
		require.NotNil(t, cfg.ListenAddr, path)
		assert.Equal(t, 7890, cfg.ListenAddr.Port, path)
		require.Len(t, cfg.Devices, 1, path)
		assert.Equal(t, "fadecandy", cfg.Devices[0]["type"], path)
		assert.True(t, cfg.Verbose, path)
	}
}

func TestLoadRejectsMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen": `), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
