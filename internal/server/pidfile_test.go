package server

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

func TestPIDFile_AcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "server.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.Acquire())
	defer pf.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
	assert.True(t, pf.IsRunning())
}

func TestPIDFile_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	first := NewPIDFile(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	err := NewPIDFile(path).Acquire()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIndexLocked))
}

func TestPIDFile_ReleaseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.Acquire())

	require.NoError(t, pf.Release())
	assert.NoFileExists(t, path)
	assert.False(t, pf.IsRunning())

	// The lock is free again.
	require.NoError(t, pf.Acquire())
	require.NoError(t, pf.Release())
}

func TestPIDFile_ReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := NewPIDFile(path).Read()
	assert.Error(t, err)
	assert.False(t, NewPIDFile(path).IsRunning())
}
