package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/gitexec"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/testutil"
)

// setupMirror returns an upstream repo and a bare mirror with remote-tracking refs
func setupMirror(t *testing.T) (upstream, mirrorPath string) {
	t.Helper()
	upstream = testutil.SetupUpstream(t)
	mirrorPath = filepath.Join(t.TempDir(), "mirror")
	testutil.Git(t, "", "clone", "--bare", upstream, mirrorPath)
	testutil.Git(t, "", "--git-dir", mirrorPath, "fetch", "origin", "--prune", "+refs/heads/*:refs/remotes/origin/*")
	return upstream, mirrorPath
}

func newProvisioner() *Provisioner {
	return NewProvisioner(gitexec.NewExecRunner("git", logger.Nop()), logger.Nop())
}

func currentBranch(t *testing.T, wt string) string {
	return strings.TrimSpace(testutil.Git(t, wt, "rev-parse", "--abbrev-ref", "HEAD"))
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "codex/1234", BranchName("1234"))
}

func TestProvisioner_Provision(t *testing.T) {
	_, mirror := setupMirror(t)
	p := newProvisioner()
	wt := filepath.Join(t.TempDir(), "worktree")

	require.NoError(t, p.Provision(context.Background(), mirror, wt, "refs/remotes/origin/feature", "codex/t1"))

	assert.Equal(t, "codex/t1", currentBranch(t, wt))
	_, err := os.Stat(filepath.Join(wt, "feature.txt"))
	assert.NoError(t, err, "worktree should be at the feature branch")
}

func TestProvisioner_ProvisionBadRef(t *testing.T) {
	_, mirror := setupMirror(t)
	p := newProvisioner()
	wt := filepath.Join(t.TempDir(), "worktree")

	err := p.Provision(context.Background(), mirror, wt, "refs/remotes/origin/nope", "codex/t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGitCommandFailed)
	assert.NoDirExists(t, wt)
}

func TestProvisioner_ProvisionCheckoutFailureCleansUp(t *testing.T) {
	_, mirror := setupMirror(t)
	p := newProvisioner()
	ctx := context.Background()

	first := filepath.Join(t.TempDir(), "wt1")
	require.NoError(t, p.Provision(ctx, mirror, first, "refs/remotes/origin/main", "codex/dup"))

	// same branch name again: checkout -b fails, the second worktree must vanish
	second := filepath.Join(t.TempDir(), "wt2")
	err := p.Provision(ctx, mirror, second, "refs/remotes/origin/main", "codex/dup")
	require.Error(t, err)
	assert.NoDirExists(t, second)

	list := testutil.Git(t, "", "--git-dir", mirror, "worktree", "list")
	assert.NotContains(t, list, second)
}

func TestProvisioner_Remove(t *testing.T) {
	_, mirror := setupMirror(t)
	p := newProvisioner()
	ctx := context.Background()
	wt := filepath.Join(t.TempDir(), "worktree")

	require.NoError(t, p.Provision(ctx, mirror, wt, "refs/remotes/origin/main", "codex/t1"))
	require.NoError(t, p.Remove(ctx, mirror, wt, "codex/t1"))

	assert.NoDirExists(t, wt)
	assert.NotContains(t, testutil.Git(t, "", "--git-dir", mirror, "worktree", "list"), wt)
	assert.NotContains(t, testutil.Git(t, "", "--git-dir", mirror, "branch", "--list"), "codex/t1")

	// second removal is a no-op
	require.NoError(t, p.Remove(ctx, mirror, wt, "codex/t1"))
}

func TestProvisioner_RemoveAfterDirectoryVanished(t *testing.T) {
	_, mirror := setupMirror(t)
	p := newProvisioner()
	ctx := context.Background()
	wt := filepath.Join(t.TempDir(), "worktree")

	require.NoError(t, p.Provision(ctx, mirror, wt, "refs/remotes/origin/main", "codex/t1"))
	require.NoError(t, os.RemoveAll(wt))

	require.NoError(t, p.Remove(ctx, mirror, wt, "codex/t1"))
	assert.NotContains(t, testutil.Git(t, "", "--git-dir", mirror, "worktree", "list"), wt)
}

func TestProvisioner_RemoveWithoutMirror(t *testing.T) {
	p := NewProvisioner(&gitexec.FakeRunner{}, logger.Nop())
	wt := filepath.Join(t.TempDir(), "worktree")
	require.NoError(t, os.MkdirAll(filepath.Join(wt, "sub"), 0o755))

	require.NoError(t, p.Remove(context.Background(), filepath.Join(t.TempDir(), "gone"), wt, "codex/t1"))
	assert.NoDirExists(t, wt)
}

func TestProvisioner_RemoveUnexpectedFailure(t *testing.T) {
	mirror := t.TempDir()
	fake := &gitexec.FakeRunner{Handler: func(args []string) (gitexec.Result, error) {
		return gitexec.Fail(args, 128, "fatal: permission denied")
	}}
	p := NewProvisioner(fake, logger.Nop())

	err := p.Remove(context.Background(), mirror, filepath.Join(t.TempDir(), "wt"), "")
	assert.ErrorIs(t, err, domain.ErrGitCommandFailed)
}

func TestProvisioner_PushAndDiff(t *testing.T) {
	upstream, mirror := setupMirror(t)
	p := newProvisioner()
	ctx := context.Background()
	wt := filepath.Join(t.TempDir(), "worktree")

	require.NoError(t, p.Provision(ctx, mirror, wt, "refs/remotes/origin/main", "codex/t1"))

	// one committed change, one uncommitted edit, one untracked file
	require.NoError(t, os.WriteFile(filepath.Join(wt, "committed.txt"), []byte("a\nb\n"), 0o644))
	testutil.Git(t, wt, "add", "committed.txt")
	testutil.Git(t, wt, "-c", "user.email=t@t", "-c", "user.name=T", "commit", "-m", "work")
	require.NoError(t, os.WriteFile(filepath.Join(wt, "README.md"), []byte("# Changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wt, "new.txt"), []byte("x\ny\nz\n"), 0o644))

	summary, err := p.Diff(ctx, wt, "refs/remotes/origin/main")
	require.NoError(t, err)

	byPath := map[string]FileStat{}
	for _, f := range summary.Files {
		byPath[f.Path] = f
	}
	assert.Equal(t, FileStat{Path: "committed.txt", Status: "added", Added: 2}, byPath["committed.txt"])
	assert.Equal(t, FileStat{Path: "README.md", Status: "modified", Added: 1, Deleted: 1}, byPath["README.md"])
	assert.Equal(t, FileStat{Path: "new.txt", Status: "untracked", Added: 3}, byPath["new.txt"])
	assert.Equal(t, 6, summary.Added)
	assert.Equal(t, 1, summary.Deleted)
	assert.Contains(t, summary.Patch, "+# Changed")

	require.NoError(t, p.Push(ctx, wt, "codex/t1"))
	assert.Contains(t, testutil.Git(t, upstream, "branch", "--list"), "codex/t1")
}

func TestParsePatch(t *testing.T) {
	patch := `diff --git a/old.txt b/old.txt
deleted file mode 100644
index 3b18e51..0000000
--- a/old.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-one
-two
diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
-var x = 1
+var x = 2
+var y = 3
 // end
`
	summary, err := ParsePatch(patch)
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)

	assert.Equal(t, FileStat{Path: "old.txt", Status: "deleted", Deleted: 2}, summary.Files[0])
	assert.Equal(t, FileStat{Path: "main.go", Status: "modified", Added: 2, Deleted: 1}, summary.Files[1])
	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 3, summary.Deleted)

	empty, err := ParsePatch("")
	require.NoError(t, err)
	assert.Empty(t, empty.Files)
}
