package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// NewGitRepo creates a repository on branch main with one commit and returns
// its canonical path.
func NewGitRepo(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolving temp dir: %v", err)
	}
	dir = filepath.Join(dir, "project")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("creating repo dir: %v", err)
	}

	Git(t, dir, "init", "-q")
	Git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	Git(t, dir, "config", "user.email", "test@example.com")
	Git(t, dir, "config", "user.name", "Test User")
	Git(t, dir, "config", "commit.gpgsign", "false")

	WriteFile(t, filepath.Join(dir, "README.md"), "# project\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-q", "-m", "initial commit")

	return dir
}

// NewBareRemote creates a bare repository, registers it as origin of repo
// and pushes main to it. Returns the bare repository path.
func NewBareRemote(t *testing.T, repo string) string {
	t.Helper()

	remote := filepath.Join(t.TempDir(), "origin.git")
	Git(t, filepath.Dir(remote), "init", "-q", "--bare", remote)
	Git(t, repo, "remote", "add", "origin", remote)
	Git(t, repo, "push", "-q", "origin", "main")
	Git(t, repo, "fetch", "-q", "origin")
	return remote
}

// Git runs git in dir and returns trimmed stdout, failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// GitOK reports whether git succeeds in dir.
func GitOK(dir string, args ...string) bool {
	return exec.Command("git", append([]string{"-C", dir}, args...)...).Run() == nil
}

// Commit adds an empty commit on the branch checked out in dir.
func Commit(t *testing.T, dir, msg string) {
	t.Helper()
	Git(t, dir, "commit", "-q", "--allow-empty", "-m", msg)
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
