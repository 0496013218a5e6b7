package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPathJail_NoRootsDisablesJail(t *testing.T) {
	err := checkPathJail(map[string]any{"working_dir": "/anything"}, nil)
	assert.NoError(t, err)
}

func TestCheckPathJail_AllowsWithinRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "project")
	err := checkPathJail(map[string]any{"working_dir": sub}, []string{root})
	assert.NoError(t, err)
}

func TestCheckPathJail_DeniesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	err := checkPathJail(map[string]any{"working_dir": "/etc/passwd"}, []string{root})
	assert.Error(t, err)
}

func TestCheckPathJail_DeniesTraversal(t *testing.T) {
	root := t.TempDir()
	escape := filepath.Join(root, "..", "..", "etc")
	err := checkPathJail(map[string]any{"file": escape}, []string{root})
	assert.Error(t, err)
}

func TestCheckPathJail_IgnoresNonPathParams(t *testing.T) {
	err := checkPathJail(map[string]any{"message": "hello"}, []string{"/tmp"})
	assert.NoError(t, err)
}

func TestCheckPathJail_DeniesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	err := checkPathJail(map[string]any{"working_dir": link}, []string{root})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrPathOutsideJail)
}

func TestCheckPathJail_AllowsSymlinkStayingWithinRoot(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("creating target dir: %v", err)
	}
	link := filepath.Join(root, "alias")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	err := checkPathJail(map[string]any{"working_dir": link}, []string{root})
	assert.NoError(t, err)
}
