// Package actions holds the Local Execution Agent's fixed set of runnable
// actions: one function per action name, each taking already-validated,
// already-jailed parameters and returning a plain result. pkg/security
// decides whether an action gets this far; this package only knows how to
// run it.
package actions

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Func runs one action and returns its result. No Func ever builds a shell
// command string from caller-supplied input — every subprocess call below
// passes a fixed argv with validated parameters slotted into individual
// elements.
type Func func(ctx context.Context, params map[string]any) (Result, error)

// Result is the stdout/stderr/exit-code triple every action returns,
// regardless of tier.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Registry maps action name to its executor. An action absent from this
// map cannot run regardless of what tier a caller claims for it.
//
//nolint:gochecknoglobals // immutable action table, built once at init
var Registry = map[string]Func{
	"git_status":           gitStatus,
	"run_tests":            runTests,
	"lint_project":         lintProject,
	"start_dev_server":     startDevServer,
	"build_project":        buildProject,
	"git_commit":           gitCommit,
	"install_dependencies": installDependencies,
	"file_write":           fileWrite,
	"docker_build":         dockerBuild,
	"docker_compose_up":    dockerComposeUp,
	"zip_project":          zipProject,
	"web_search":           webSearch,
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("missing required parameter: %q", key)
	}
	return s, nil
}

func stringOr(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ------------------------------------------------------------------
// AUTO-tier actions
// ------------------------------------------------------------------

func gitStatus(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	return runFixed(ctx, []string{"git", "status", "--porcelain"}, cwd, 0)
}

func runTests(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	switch runner := stringOr(params, "runner", "pytest"); runner {
	case "pytest":
		return runFixed(ctx, []string{"python", "-m", "pytest", "--tb=short", "-q"}, cwd, 0)
	case "npm":
		return runFixed(ctx, []string{"npm", "test"}, cwd, 0)
	case "go":
		return runFixed(ctx, []string{"go", "test", "./..."}, cwd, 0)
	default:
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("unknown runner: %s", runner)}, nil
	}
}

func lintProject(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	switch linter := stringOr(params, "linter", "ruff"); linter {
	case "ruff":
		return runFixed(ctx, []string{"python", "-m", "ruff", "check", "."}, cwd, 0)
	case "eslint":
		return runFixed(ctx, []string{"npx", "eslint", "."}, cwd, 0)
	case "golangci-lint":
		return runFixed(ctx, []string{"golangci-lint", "run"}, cwd, 0)
	default:
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("unknown linter: %s", linter)}, nil
	}
}

func startDevServer(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	switch framework := stringOr(params, "framework", "npm"); framework {
	case "npm":
		pid, err := runDetached([]string{"npm", "run", "dev"}, cwd)
		if err != nil {
			return Result{ExitCode: 1, Stderr: err.Error()}, nil
		}
		return Result{ExitCode: 0, Stdout: fmt.Sprintf("dev server started (pid=%d)", pid)}, nil
	case "uvicorn":
		appModule := stringOr(params, "app_module", "main:app")
		pid, err := runDetached([]string{"python", "-m", "uvicorn", appModule, "--reload"}, cwd)
		if err != nil {
			return Result{ExitCode: 1, Stderr: err.Error()}, nil
		}
		return Result{ExitCode: 0, Stdout: fmt.Sprintf("uvicorn started (pid=%d)", pid)}, nil
	default:
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("unknown framework: %s", framework)}, nil
	}
}

func buildProject(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	switch tool := stringOr(params, "build_tool", "npm"); tool {
	case "npm":
		return runFixed(ctx, []string{"npm", "run", "build"}, cwd, 0)
	case "python":
		return runFixed(ctx, []string{"python", "-m", "build"}, cwd, 0)
	case "go":
		return runFixed(ctx, []string{"go", "build", "./..."}, cwd, 0)
	default:
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("unknown build tool: %s", tool)}, nil
	}
}

// ------------------------------------------------------------------
// CONFIRM-tier actions
// ------------------------------------------------------------------

func gitCommit(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	message, err := requireString(params, "message")
	if err != nil {
		return Result{}, err
	}

	stage, err := runFixed(ctx, []string{"git", "add", "-u"}, cwd, 0)
	if err != nil || stage.ExitCode != 0 {
		return stage, err
	}
	return runFixed(ctx, []string{"git", "commit", "-m", message}, cwd, 0)
}

func installDependencies(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	const installTimeout = 300 * time.Second
	switch manager := stringOr(params, "manager", "pip"); manager {
	case "pip":
		reqFile := filepath.Join(cwd, "requirements.txt")
		return runFixed(ctx, []string{"python", "-m", "pip", "install", "-r", reqFile}, cwd, installTimeout)
	case "npm":
		return runFixed(ctx, []string{"npm", "install"}, cwd, installTimeout)
	case "go":
		return runFixed(ctx, []string{"go", "mod", "download"}, cwd, installTimeout)
	default:
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("unknown manager: %s", manager)}, nil
	}
}

const maxFileWriteBytes = 1 << 20 // 1 MiB

func fileWrite(ctx context.Context, params map[string]any) (Result, error) {
	path, err := requireString(params, "file")
	if err != nil {
		return Result{}, err
	}
	content, _ := params["content"].(string)
	if len(content) > maxFileWriteBytes {
		return Result{ExitCode: 1, Stderr: "content exceeds 1 MiB limit"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Result{ExitCode: 1, Stderr: err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Result{ExitCode: 1, Stderr: err.Error()}, nil
	}
	return Result{ExitCode: 0, Stdout: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

var dockerTagPattern = regexp.MustCompile(`^[a-zA-Z0-9._/:@-]+$`)

func dockerBuild(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	tag := stringOr(params, "tag", "openclaw-build:latest")
	if !dockerTagPattern.MatchString(tag) {
		return Result{ExitCode: 1, Stderr: "invalid docker tag characters"}, nil
	}
	const buildTimeout = 600 * time.Second
	return runFixed(ctx, []string{"docker", "build", "-t", tag, "."}, cwd, buildTimeout)
}

func dockerComposeUp(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	const composeTimeout = 300 * time.Second
	return runFixed(ctx, []string{"docker", "compose", "up", "-d"}, cwd, composeTimeout)
}

// maxArchiveBytes bounds how much zipProject will pack before aborting,
// so a runaway project directory can't fill the disk on the Gateway side
// once the archive is uploaded.
const maxArchiveBytes = 10 << 20 // 10 MiB

// zipProject archives the project directory for hand-off to the Gateway
// (e.g. attaching a build artifact to a milestone review). Named in the
// spec's boundary cases but absent from its component table — added here
// as a plain AUTO action built on archive/zip rather than shelling out to
// a system zip binary, so the 10 MiB cap can abort mid-walk.
func zipProject(ctx context.Context, params map[string]any) (Result, error) {
	cwd, err := requireString(params, "working_dir")
	if err != nil {
		return Result{}, err
	}
	dest := stringOr(params, "dest", filepath.Join(cwd, "project.zip"))

	out, err := os.Create(dest)
	if err != nil {
		return Result{ExitCode: 1, Stderr: err.Error()}, nil
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	var written int64

	walkErr := filepath.Walk(cwd, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if written > maxArchiveBytes {
			return fmt.Errorf("archive exceeds %d byte limit", maxArchiveBytes)
		}

		rel, err := filepath.Rel(cwd, path)
		if err != nil {
			return err
		}

		w, err := zw.Create(rel)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := io.Copy(w, io.LimitReader(f, maxArchiveBytes-written+1))
		written += n
		if err == nil && written > maxArchiveBytes {
			return fmt.Errorf("archive exceeds %d byte limit", maxArchiveBytes)
		}
		return err
	})

	if zerr := zw.Close(); zerr != nil && walkErr == nil {
		walkErr = zerr
	}

	if walkErr != nil {
		os.Remove(dest)
		return Result{ExitCode: 1, Stderr: walkErr.Error()}, nil
	}

	return Result{ExitCode: 0, Stdout: fmt.Sprintf("archived %s to %s (%d bytes)", cwd, dest, written)}, nil
}
