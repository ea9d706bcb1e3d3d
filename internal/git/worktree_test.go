package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trench/internal/testutil"
)

func branchExists(repo, branch string) bool {
	return testutil.GitOK(repo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
}

func TestCreateWorktree(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)

	t.Run("creates branch and checkout", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "feature")

		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", target))

		assert.DirExists(t, target)
		assert.FileExists(t, filepath.Join(target, "README.md"))
		assert.Equal(t, "feature", testutil.Git(t, target, "rev-parse", "--abbrev-ref", "HEAD"))
		assert.Equal(t,
			testutil.Git(t, repo, "rev-parse", "main"),
			testutil.Git(t, repo, "rev-parse", "feature"))
	})

	t.Run("rejects existing local branch before mutating", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "branch", "feature")
		target := filepath.Join(t.TempDir(), "feature")

		err := a.CreateWorktree(ctx, repo, "feature", "main", target)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBranchExists)
		assert.NoDirExists(t, target)
	})

	t.Run("rejects unknown base", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "feature")

		err := a.CreateWorktree(ctx, repo, "feature", "nope", target)
		require.Error(t, err)

		var typed *BaseBranchNotFoundError
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, "nope", typed.Base)
		assert.False(t, branchExists(repo, "feature"))
	})

	t.Run("occupied target leaves no branch behind", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "occupied")
		testutil.WriteFile(t, filepath.Join(target, "keep.txt"), "mine")

		err := a.CreateWorktree(ctx, repo, "feature", "main", target)
		require.Error(t, err)

		var cmdErr *CommandError
		assert.ErrorAs(t, err, &cmdErr)
		assert.False(t, branchExists(repo, "feature"), "orphaned branch should be deleted")
		assert.FileExists(t, filepath.Join(target, "keep.txt"))

		// The rollback leaves the name free for a retry elsewhere.
		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", filepath.Join(t.TempDir(), "retry")))
	})

	t.Run("remote branch conflict clears after remote deletion", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		remote := testutil.NewBareRemote(t, repo)
		testutil.Git(t, repo, "push", "-q", "origin", "main:taken")
		testutil.Git(t, repo, "fetch", "-q", "origin")

		err := a.CreateWorktree(ctx, repo, "taken", "main", filepath.Join(t.TempDir(), "taken"))
		require.Error(t, err)

		var typed *RemoteBranchAlreadyExistsError
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, "taken", typed.Branch)
		assert.Equal(t, "origin", typed.Remote)
		assert.ErrorIs(t, err, ErrRemoteBranchExists)
		assert.False(t, branchExists(repo, "taken"))

		// The local origin/taken ref is now stale; the refresh must prune it.
		testutil.Git(t, remote, "branch", "-D", "taken")
		require.NoError(t, a.CreateWorktree(ctx, repo, "taken", "main", filepath.Join(t.TempDir(), "taken")))
	})

	t.Run("local conflict wins over remote conflict", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.NewBareRemote(t, repo)
		testutil.Git(t, repo, "push", "-q", "origin", "main:both")
		testutil.Git(t, repo, "branch", "both")

		err := a.CreateWorktree(ctx, repo, "both", "main", filepath.Join(t.TempDir(), "both"))
		assert.ErrorIs(t, err, ErrBranchExists)
	})

	t.Run("base resolves from origin when missing locally", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.NewBareRemote(t, repo)
		testutil.Git(t, repo, "checkout", "-q", "-b", "release")
		testutil.Commit(t, repo, "release prep")
		testutil.Git(t, repo, "push", "-q", "origin", "release")
		testutil.Git(t, repo, "checkout", "-q", "main")
		testutil.Git(t, repo, "branch", "-D", "release")

		target := filepath.Join(t.TempDir(), "hotfix")
		require.NoError(t, a.CreateWorktree(ctx, repo, "hotfix", "release", target))
		assert.Equal(t,
			testutil.Git(t, repo, "rev-parse", "origin/release"),
			testutil.Git(t, repo, "rev-parse", "hotfix"))
	})

	t.Run("offline remote is tolerated", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "remote", "add", "origin", filepath.Join(t.TempDir(), "gone.git"))

		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", filepath.Join(t.TempDir(), "feature")))
	})
}

func TestRemoveWorktree(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)

	t.Run("deletes directory and keeps branch", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "feature")
		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", target))

		require.NoError(t, a.RemoveWorktree(ctx, repo, target))

		assert.NoDirExists(t, target)
		assert.True(t, branchExists(repo, "feature"))

		entries, err := a.ListWorktrees(ctx, repo)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("missing path", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)

		err := a.RemoveWorktree(ctx, repo, filepath.Join(t.TempDir(), "ghost"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWorktreeNotFound)

		var typed *WorktreeNotFoundError
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, "ghost", typed.Name)
	})
}

func TestListWorktrees(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)
	repo := testutil.NewGitRepo(t)

	target := filepath.Join(t.TempDir(), "feature")
	require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", target))

	entries, err := a.ListWorktrees(ctx, repo)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.True(t, entries[0].IsMain)
	assert.Equal(t, repo, entries[0].Path)
	require.NotNil(t, entries[0].Branch)
	assert.Equal(t, "main", *entries[0].Branch)

	assert.False(t, entries[1].IsMain)
	resolved, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, resolved, entries[1].Path)
	assert.Equal(t, "feature", entries[1].Name)
	require.NotNil(t, entries[1].Branch)
	assert.Equal(t, "feature", *entries[1].Branch)
}

func TestParseWorktreeList(t *testing.T) {
	output := "worktree /src/bare.git\nbare\n\n" +
		"worktree /src/project\nHEAD 1111\nbranch refs/heads/main\n\n" +
		"worktree /wt/detached\nHEAD 2222\ndetached\n\n" +
		"worktree /wt/feature\nHEAD 3333\nbranch refs/heads/feature/auth\n"

	entries := parseWorktreeList(output)
	require.Len(t, entries, 3)

	assert.Equal(t, "/src/project", entries[0].Path)
	assert.True(t, entries[0].IsMain)

	assert.Equal(t, "detached", entries[1].Name)
	assert.Nil(t, entries[1].Branch)
	assert.False(t, entries[1].IsMain)

	require.NotNil(t, entries[2].Branch)
	assert.Equal(t, "feature/auth", *entries[2].Branch)
}

func TestDirtyCount(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)
	repo := testutil.NewGitRepo(t)

	n, err := a.DirtyCount(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	testutil.WriteFile(t, filepath.Join(repo, "README.md"), "changed\n")
	testutil.WriteFile(t, filepath.Join(repo, "new", "a.txt"), "a")
	testutil.WriteFile(t, filepath.Join(repo, "new", "nested", "b.txt"), "b")

	n, err = a.DirtyCount(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFastForward(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)

	t.Run("moves branch to base", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "feature")
		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", target))
		testutil.Commit(t, repo, "main moves on")

		upstream, err := a.FastForward(ctx, repo, target, "feature", strPtr("main"))
		require.NoError(t, err)
		assert.Equal(t, "main", upstream)

		ab, err := a.AheadBehind(repo, "feature", strPtr("main"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, 0, ab.Behind)
	})

	t.Run("no upstream", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "feature")
		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", target))

		_, err := a.FastForward(ctx, repo, target, "feature", nil)
		assert.ErrorIs(t, err, ErrNoUpstream)
	})

	t.Run("refuses diverged history", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		target := filepath.Join(t.TempDir(), "feature")
		require.NoError(t, a.CreateWorktree(ctx, repo, "feature", "main", target))
		testutil.Commit(t, repo, "main moves on")
		testutil.Commit(t, target, "feature moves on")

		_, err := a.FastForward(ctx, repo, target, "feature", strPtr("main"))
		require.Error(t, err)
		_, statErr := os.Stat(target)
		assert.NoError(t, statErr)
	})
}

func TestDeleteRemoteBranch(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(nil)
	repo := testutil.NewGitRepo(t)
	remote := testutil.NewBareRemote(t, repo)
	testutil.Git(t, repo, "push", "-q", "origin", "main:feature")

	require.NoError(t, a.DeleteRemoteBranch(ctx, repo, "feature"))
	assert.False(t, testutil.GitOK(remote, "rev-parse", "--verify", "--quiet", "refs/heads/feature"))
}

func TestCheckBranchAvailable(t *testing.T) {
	a := NewAdapter(nil)
	repo := testutil.NewGitRepo(t)
	testutil.Git(t, repo, "branch", "taken")

	assert.NoError(t, a.CheckBranchAvailable(repo, "free"))

	err := a.CheckBranchAvailable(repo, "taken")
	assert.ErrorIs(t, err, ErrBranchExists)
}

func TestDeleteBranch(t *testing.T) {
	a := NewAdapter(nil)
	repo := testutil.NewGitRepo(t)
	testutil.Git(t, repo, "branch", "feature")

	require.NoError(t, a.DeleteBranch(repo, "feature"))
	assert.False(t, branchExists(repo, "feature"))

	assert.NoError(t, a.DeleteBranch(repo, "feature"), "missing branch")
}
