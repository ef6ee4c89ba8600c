package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"servopulse/core"
	"servopulse/sim"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(core.ResetCommands)

	var out bytes.Buffer
	app := newApp(&out, clock.NewMock())
	err := app.Run(append([]string{"servoctl"}, args...))
	return out.String(), err
}

func TestSetOnSimDevice(t *testing.T) {
	out, err := run(t, "--device", "sim", "set", "--width", "2100")
	require.NoError(t, err)
	assert.Contains(t, out, "pulse width set to 2100us")
}

func TestStatusOnSimDevice(t *testing.T) {
	out, err := run(t, "--device", "sim", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "1500")
}

func TestDictOnSimDevice(t *testing.T) {
	out, err := run(t, "--device", "sim", "dict")
	require.NoError(t, err)
	assert.Contains(t, out, "set_pulse_width")
	assert.Contains(t, out, "width=%u")
}

func TestShutdownOnSimDevice(t *testing.T) {
	out, err := run(t, "--device", "sim", "shutdown")
	require.NoError(t, err)
	assert.Contains(t, out, "servo shut down")
	assert.True(t, core.IsShutdown())
}

func TestSweepCount(t *testing.T) {
	_, err := run(t, "--device", "sim", "sweep", "--count", "1")
	require.NoError(t, err)
}

func TestMissingDevice(t *testing.T) {
	_, err := run(t, "--device", filepath.Join(t.TempDir(), "nope"), "--timeout", "100ms", "status")
	assert.Error(t, err)
}

func TestSimulateFlags(t *testing.T) {
	out, err := run(t, "simulate", "--duration", "2s", "--interval", "250ms")
	require.NoError(t, err)
	assert.Contains(t, out, "random")
	assert.Contains(t, out, "Glitches")
}

func TestSimulateScenarioEdges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: steps
duration_us: 60000
requests:
  - at_us: 5000
    width_us: 1000
`), 0o644))

	out, err := run(t, "simulate", "--scenario", path, "--edges")
	require.NoError(t, err)
	assert.Contains(t, out, "steps")

	// The edge dump follows the table
	idx := bytes.Index([]byte(out), []byte("- at:"))
	require.GreaterOrEqual(t, idx, 0)
	var edges []sim.Edge
	require.NoError(t, yaml.Unmarshal([]byte(out[idx:]), &edges))
	require.NotEmpty(t, edges)
	assert.Equal(t, sim.Edge{At: 10000, Level: true, Mode: sim.ModeSetOnMatch}, edges[0])
}

func TestSimulateInvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("period_us: 70000\n"), 0o644))

	_, err := run(t, "simulate", "--scenario", path)
	assert.ErrorIs(t, err, sim.ErrInvalidScenario)
}
