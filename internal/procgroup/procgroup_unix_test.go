// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminateEndsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	Set(cmd)
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	require.NoError(t, Terminate(cmd))

	select {
	case err := <-done:
		assert.Error(t, err, "wait should report the terminating signal")
	case <-time.After(3 * time.Second):
		_ = Kill(cmd)
		t.Fatal("process survived SIGTERM to its group")
	}
}

func TestSignalingWithoutProcessIsNoOp(t *testing.T) {
	assert.NoError(t, Terminate(nil))
	assert.NoError(t, Kill(nil))

	// Built but never started.
	assert.NoError(t, Terminate(exec.Command("sleep", "1")))
}

func TestTerminateAfterExitIsNoOp(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())

	assert.NoError(t, Terminate(cmd))
}
