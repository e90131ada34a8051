//go:build !windows

package daemon

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	Detach(cmd)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	// Reap the child so it does not linger as a zombie that still answers signal 0.
	go func() { _ = cmd.Wait() }()
	return cmd
}

func TestPIDFile_Terminate(t *testing.T) {
	child := startSleeper(t)
	pf := NewPIDFile(filepath.Join(t.TempDir(), "child.pid"))
	require.NoError(t, pf.WritePID(child.Process.Pid))

	_, running := pf.IsRunning()
	require.True(t, running)

	require.NoError(t, pf.Terminate())
	assert.True(t, pf.WaitExit(5*time.Second, 20*time.Millisecond))
}

func TestPIDFile_Kill(t *testing.T) {
	child := startSleeper(t)
	pf := NewPIDFile(filepath.Join(t.TempDir(), "child.pid"))
	require.NoError(t, pf.WritePID(child.Process.Pid))

	require.NoError(t, pf.Kill())
	assert.True(t, pf.WaitExit(5*time.Second, 20*time.Millisecond))
}

func TestShutdownSignals(t *testing.T) {
	assert.Len(t, ShutdownSignals(), 2)
}
