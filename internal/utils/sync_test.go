package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexDisabled(t *testing.T) {
	var m OptionalMutex

	m.Lock()
	// Reentrant when disabled
	require.True(t, m.TryLock())
	m.Unlock()
	m.Unlock()
}

func TestOptionalMutexEnabled(t *testing.T) {
	m := OptionalMutex{UseMutex: true}

	m.Lock()
	require.False(t, m.TryLock())
	m.Unlock()

	require.True(t, m.TryLock())
	m.Unlock()
}
