package actions

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFixed_CapturesExitCode(t *testing.T) {
	res, err := runFixed(context.Background(), []string{"git", "status", "--porcelain"}, t.TempDir(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode) // not a git repo; nonzero exit, not a Go error
}

func TestFileWrite_RejectsOversizedContent(t *testing.T) {
	big := make([]byte, maxFileWriteBytes+1)
	res, err := fileWrite(context.Background(), map[string]any{
		"file":    filepath.Join(t.TempDir(), "out.txt"),
		"content": string(big),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "1 MiB")
}

func TestFileWrite_WritesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	res, err := fileWrite(context.Background(), map[string]any{"file": path, "content": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestDockerBuild_RejectsBadTag(t *testing.T) {
	res, err := dockerBuild(context.Background(), map[string]any{
		"working_dir": t.TempDir(),
		"tag":         "oops; rm -rf /",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "invalid docker tag")
}

func TestZipProject_ArchivesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0644))

	dest := filepath.Join(t.TempDir(), "out.zip")
	res, err := zipProject(context.Background(), map[string]any{"working_dir": dir, "dest": dest})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	r, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, r.File, 1)
	assert.Equal(t, "a.txt", r.File[0].Name)
}

func TestZipProject_MissingWorkingDir(t *testing.T) {
	_, err := zipProject(context.Background(), map[string]any{})
	assert.Error(t, err)
}
