package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteJSON(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.json")

	require.NoError(t, AtomicWriteJSON(testFile, map[string]string{"key": "value"}))

	content, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"key\": \"value\"\n}", string(content))

	_, err = os.Stat(testFile + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file was not cleaned up")
}

func TestAtomicWriteFile_CreatesParent(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "nested", "dir", "hint")

	require.NoError(t, AtomicWriteFile(testFile, []byte("C123"), 0o600))

	content, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "C123", string(content))

	info, err := os.Stat(testFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAtomicWriteOverwrite(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.json")

	require.NoError(t, AtomicWriteJSON(testFile, "first"))
	require.NoError(t, AtomicWriteJSON(testFile, "second"))

	content, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, `"second"`, string(content))
}
