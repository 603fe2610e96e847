// Package testutil builds throwaway git repositories and mock agents for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// RequireGit skips the test when git is not installed.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// Git runs git in dir and fails the test on error, returning stdout+stderr.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %s", args, out)
	}
	return string(out)
}

// SetupUpstream creates a repository with branch main (one commit),
// branch feature (one more commit) and tag v1 on main. It returns its path.
func SetupUpstream(t testing.TB) string {
	t.Helper()
	RequireGit(t)
	dir := t.TempDir()

	Git(t, dir, "init")
	Git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")

	writeFile(t, filepath.Join(dir, "README.md"), "# Test\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Initial commit")
	Git(t, dir, "tag", "v1")

	Git(t, dir, "checkout", "-b", "feature")
	writeFile(t, filepath.Join(dir, "feature.txt"), "feature\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Add feature")
	Git(t, dir, "checkout", "main")

	return dir
}

// Commit adds a file on branch in an upstream created by SetupUpstream.
func Commit(t testing.TB, dir, branch, file, content string) {
	t.Helper()
	Git(t, dir, "checkout", branch)
	writeFile(t, filepath.Join(dir, file), content)
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Update "+file)
	Git(t, dir, "checkout", "main")
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
