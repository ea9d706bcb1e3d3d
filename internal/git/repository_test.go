package git

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trench/internal/testutil"
)

func strPtr(s string) *string { return &s }

func TestDiscover(t *testing.T) {
	a := NewAdapter(nil)

	t.Run("at root", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)

		info, err := a.Discover(repo)
		require.NoError(t, err)
		assert.Equal(t, repo, info.Path)
		assert.Equal(t, "project", info.Name)
		assert.Equal(t, "main", info.DefaultBase)
		assert.Empty(t, info.RemoteURL)
	})

	t.Run("from subdirectory", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		sub := filepath.Join(repo, "src", "deep")
		require.NoError(t, os.MkdirAll(sub, 0755))

		info, err := a.Discover(sub)
		require.NoError(t, err)
		assert.Equal(t, repo, info.Path)
	})

	t.Run("reports origin url and head branch", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		remote := testutil.NewBareRemote(t, repo)
		testutil.Git(t, repo, "checkout", "-q", "-b", "develop")

		info, err := a.Discover(repo)
		require.NoError(t, err)
		assert.Equal(t, remote, info.RemoteURL)
		assert.Equal(t, "develop", info.DefaultBase)
	})

	t.Run("not a repository", func(t *testing.T) {
		_, err := a.Discover(t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotARepo)

		var typed *NotARepoError
		assert.ErrorAs(t, err, &typed)
	})
}

func TestAheadBehind(t *testing.T) {
	a := NewAdapter(nil)

	t.Run("same commit as base", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "branch", "feature")

		ab, err := a.AheadBehind(repo, "feature", strPtr("main"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, 0, ab.Ahead)
		assert.Equal(t, 0, ab.Behind)
		assert.Equal(t, "main", ab.Upstream)
	})

	t.Run("commits only on feature", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "checkout", "-q", "-b", "feature")
		for i := 0; i < 3; i++ {
			testutil.Commit(t, repo, "feature work")
		}

		ab, err := a.AheadBehind(repo, "feature", strPtr("main"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, 3, ab.Ahead)
		assert.Equal(t, 0, ab.Behind)
	})

	t.Run("commits only on base", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "branch", "feature")
		testutil.Commit(t, repo, "main work 1")
		testutil.Commit(t, repo, "main work 2")

		ab, err := a.AheadBehind(repo, "feature", strPtr("main"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, 0, ab.Ahead)
		assert.Equal(t, 2, ab.Behind)
	})

	t.Run("diverged", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "checkout", "-q", "-b", "feature")
		testutil.Commit(t, repo, "feature work")
		testutil.Git(t, repo, "checkout", "-q", "main")
		testutil.Commit(t, repo, "main work 1")
		testutil.Commit(t, repo, "main work 2")

		ab, err := a.AheadBehind(repo, "feature", strPtr("main"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, 1, ab.Ahead)
		assert.Equal(t, 2, ab.Behind)
	})

	t.Run("configured upstream wins over override", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.Git(t, repo, "branch", "develop")
		testutil.Git(t, repo, "branch", "feature")
		testutil.Git(t, repo, "config", "branch.feature.remote", ".")
		testutil.Git(t, repo, "config", "branch.feature.merge", "refs/heads/develop")
		testutil.Commit(t, repo, "main only")

		ab, err := a.AheadBehind(repo, "feature", strPtr("main"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, "develop", ab.Upstream)
		assert.Equal(t, 0, ab.Behind)
	})

	t.Run("falls back to origin override", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)
		testutil.NewBareRemote(t, repo)
		testutil.Git(t, repo, "push", "-q", "origin", "main:release")
		testutil.Git(t, repo, "fetch", "-q", "origin")
		testutil.Git(t, repo, "checkout", "-q", "-b", "feature")
		testutil.Commit(t, repo, "feature work")

		ab, err := a.AheadBehind(repo, "feature", strPtr("release"))
		require.NoError(t, err)
		require.NotNil(t, ab)
		assert.Equal(t, "origin/release", ab.Upstream)
		assert.Equal(t, 1, ab.Ahead)
	})

	t.Run("no reference point", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)

		ab, err := a.AheadBehind(repo, "main", nil)
		require.NoError(t, err)
		assert.Nil(t, ab)

		ab, err = a.AheadBehind(repo, "main", strPtr("does-not-exist"))
		require.NoError(t, err)
		assert.Nil(t, ab)
	})

	t.Run("unknown branch", func(t *testing.T) {
		repo := testutil.NewGitRepo(t)

		ab, err := a.AheadBehind(repo, "nope", strPtr("main"))
		require.NoError(t, err)
		assert.Nil(t, ab)
	})
}
