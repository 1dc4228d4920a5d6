package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	checker := NewDirChecker("artifacts", dir)

	assert.Equal(t, "artifacts", checker.Name())
	require.NoError(t, checker.Check(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch file must be removed")
	assert.Equal(t, dir, checker.Details()["path"])
}

func TestDirCheckerFailures(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	err := NewDirChecker("artifacts", filepath.Join(dir, "missing")).Check(context.Background())
	assert.Error(t, err)

	err = NewDirChecker("artifacts", file).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}
