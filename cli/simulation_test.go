package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nhirsama/Goster-Mission/src/encoder"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/vehiclesim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simulatedPlanCSV = `timestamp,latitude,longitude,delay,drop,servo,drop_delay
1700000000,52.25,21.0,2,0,,
1700000001,52.5,21.5,0,1,9,1
1700000002,,,5,0,,
`

// startSimulatedVehicle runs the vehicle the ground station uploads to
func startSimulatedVehicle(t *testing.T, opts ...vehiclesim.Option) *vehiclesim.Vehicle {
	opts = append([]vehiclesim.Option{vehiclesim.WithHeartbeatInterval(50 * time.Millisecond)}, opts...)
	v, err := vehiclesim.Listen("127.0.0.1:0", opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		v.Close()
		assert.NoError(t, <-done)
	})
	return v
}

func writePlan(t *testing.T, dir string) string {
	path := filepath.Join(dir, "plan.csv")
	require.NoError(t, os.WriteFile(path, []byte(simulatedPlanCSV), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func fastFlags(dir string) []string {
	return []string{
		"--store-dsn", filepath.Join(dir, "missions.db"),
		"--heartbeat-timeout", "2s",
		"--item-timeout", "500ms",
		"--ack-timeout", "500ms",
		"--log-level", "error",
	}
}

func TestSimulatedVehicleUpload(t *testing.T) {
	dir := t.TempDir()
	v := startSimulatedVehicle(t)
	plan := writePlan(t, dir)

	args := append([]string{"upload", "--plan", plan, "--endpoint", "udpout:" + v.Addr(), "--altitude", "30", "--progress"}, fastFlags(dir)...)
	stdout, stderr, err := execute(t, args...)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Succeeded: 7 items")
	assert.Contains(t, stdout, "AwaitingItemRequests")

	missions := v.Missions()
	require.Len(t, missions, 1)
	items := missions[0]
	require.Len(t, items, 7)
	assert.Equal(t, inter.MavCmdNavTakeoff, items[0].Command)
	assert.Equal(t, float32(30), items[0].Z)
	assert.Equal(t, encoder.ScaleDegrees(52.25), items[1].X)
	assert.Equal(t, inter.MavCmdDoSetServo, items[3].Command)
	assert.Equal(t, float32(9), items[3].Param1)
	assert.Equal(t, inter.MavCmdNavDelay, items[5].Command)
	assert.Equal(t, float32(5), items[5].Param1)
	assert.Equal(t, inter.MavCmdNavReturnToLaunch, items[6].Command)

	stdout, stderr, err = execute(t, append([]string{"history", "--limit", "5"}, fastFlags(dir)...)...)
	require.NoError(t, err, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "Succeeded")
	assert.Contains(t, lines[1], "7/7")
}

func TestSimulatedVehicleRejects(t *testing.T) {
	dir := t.TempDir()
	v := startSimulatedVehicle(t, vehiclesim.WithResult(inter.MavMissionNoSpace))
	plan := writePlan(t, dir)

	args := append([]string{"upload", "--plan", plan, "--endpoint", "udpout:" + v.Addr(), "--altitude", "30"}, fastFlags(dir)...)
	_, _, err := execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAV_MISSION_NO_SPACE")
	assert.Empty(t, v.Missions())

	stdout, _, err := execute(t, append([]string{"history"}, fastFlags(dir)...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Failed")
}

func TestCompileCommand(t *testing.T) {
	dir := t.TempDir()
	plan := writePlan(t, dir)

	stdout, stderr, err := execute(t, append([]string{"compile", "--plan", plan, "--altitude", "25", "--first-current"}, fastFlags(dir)...)...)
	require.NoError(t, err, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 8)
	assert.Contains(t, lines[1], "Takeoff(25)")
	assert.Contains(t, lines[1], "NAV_TAKEOFF")
	assert.Contains(t, lines[7], "NAV_RETURN_TO_LAUNCH")
}

func TestCompileCommand_InvalidRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("latitude,longitude,delay\n91,0,0\n10,10,0\n"), 0o644))

	_, stderr, err := execute(t, append([]string{"compile", "--plan", path, "--altitude", "25"}, fastFlags(dir)...)...)
	require.Error(t, err)
	assert.Contains(t, stderr, "row 0:")
}

func TestUsage(t *testing.T) {
	_, stderr, err := execute(t)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr, "simulate")

	_, stderr, err = execute(t, "fly")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr, `unknown command "fly"`)

	_, _, err = execute(t, "upload", "--plan", "x.csv")
	assert.EqualError(t, err, "--endpoint is required")
}
