package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears a variable for the test while keeping t.Setenv's restore
// behavior, since a set-but-empty variable would mask envDefault values.
func unsetEnv(t *testing.T, key string) {
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "DB_GITHUB_OWNER")
	unsetEnv(t, "DB_GITHUB_REPO")
	unsetEnv(t, "DB_GITHUB_BRANCH")
	unsetEnv(t, "DB_WRITE_ALLOWED")
	unsetEnv(t, "DB_LOCAL_PATH")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "db-live", cfg.Branch)
	assert.False(t, cfg.WriteAllowed)
	assert.Equal(t, ".docvault", cfg.BasePath)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DB_GITHUB_OWNER", "acme")
	t.Setenv("DB_GITHUB_REPO", "state")
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("DB_GITHUB_BRANCH", "db-staging")
	t.Setenv("DB_WRITE_ALLOWED", "true")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Owner)
	assert.Equal(t, "state", cfg.Repo)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, "db-staging", cfg.Branch)
	assert.True(t, cfg.WriteAllowed)
}

func TestNewDocumentStoreSelectsLocalWithoutRepo(t *testing.T) {
	store, err := NewDocumentStore(&Config{BasePath: t.TempDir(), WriteAllowed: true})

	require.NoError(t, err)
	local, ok := store.(*LocalDocumentStorage)
	require.True(t, ok, "expected the local backend")
	assert.True(t, local.Writable())
}

func TestNewDocumentStoreSelectsGithubWithRepo(t *testing.T) {
	store, err := NewDocumentStore(&Config{Owner: "acme", Repo: "state", Token: "tok", Branch: "db-live"})

	require.NoError(t, err)
	remote, ok := store.(*GithubDocumentStorage)
	require.True(t, ok, "expected the GitHub backend")
	assert.Equal(t, "acme", remote.Owner)
	assert.Equal(t, "db-live", remote.Branch)
	assert.False(t, remote.Writable())
}

func TestNewDocumentStoreNilConfig(t *testing.T) {
	_, err := NewDocumentStore(nil)
	assert.Error(t, err)
}
