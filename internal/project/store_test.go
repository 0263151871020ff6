package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLocalProject(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	local := t.TempDir()

	proj, err := store.Create(context.Background(), CreateRequest{
		Name:      "demo",
		Source:    "local",
		LocalPath: local,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, proj.ID)
	assert.Equal(t, "vibe", proj.CLIAdapter)
	assert.Equal(t, "idle", proj.Status)
	assert.DirExists(t, filepath.Join(local, ".alchemistral", "contracts"))
	assert.DirExists(t, filepath.Join(local, ".alchemistral", "agents"))
	assert.FileExists(t, filepath.Join(local, ".alchemistral", "GLOBAL.md"))
	assert.FileExists(t, filepath.Join(local, ".alchemistral", "architecture.json"))

	got, err := store.Get(proj.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, proj.Name, got.Name)

	projects, err := store.List()
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestCreateLocalProjectMissingPathFails(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	_, err := store.Create(context.Background(), CreateRequest{
		Name:      "demo",
		Source:    "local",
		LocalPath: "/definitely/not/here",
	})
	assert.ErrorContains(t, err, "does not exist")
}

func TestCreateInitProjectRunsGitInit(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	local := filepath.Join(t.TempDir(), "fresh")

	proj, err := store.Create(context.Background(), CreateRequest{
		Name:      "fresh",
		Source:    "init",
		LocalPath: local,
	})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(local, ".git"))
	assert.Equal(t, local, proj.LocalPath)
}

func TestCreateRejectsUnknownSource(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	_, err := store.Create(context.Background(), CreateRequest{Name: "x", Source: "ftp"})
	assert.ErrorContains(t, err, `invalid source "ftp"`)
}

func TestDelete(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	proj, err := store.Create(context.Background(), CreateRequest{
		Name: "demo", Source: "local", LocalPath: t.TempDir(),
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(proj.ID))
	got, err := store.Get(proj.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorContains(t, store.Delete(proj.ID), "not found")
}

func TestGetUnknownProjectReturnsNil(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	got, err := store.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInitAlchDirPreservesExistingFiles(t *testing.T) {
	local := t.TempDir()
	require.NoError(t, InitAlchDir(local))
	custom := "# Custom memory\n"
	require.NoError(t, WriteGlobal(filepath.Join(local, ".alchemistral"), custom))

	require.NoError(t, InitAlchDir(local))
	assert.Equal(t, custom, ReadGlobal(filepath.Join(local, ".alchemistral")))
}

func TestContractRoundTrip(t *testing.T) {
	local := t.TempDir()
	require.NoError(t, InitAlchDir(local))
	alch := filepath.Join(local, ".alchemistral")

	content := `{"endpoints":[{"path":"/api/resource"}]}`
	require.NoError(t, WriteContract(alch, "api-schema.json", content))

	// Byte-identical read-back.
	assert.Equal(t, content, ReadContract(alch, "api-schema.json"))
	assert.Equal(t, []string{"api-schema.json"}, ListContracts(alch))

	texts := ContractTexts(alch)
	require.Len(t, texts, 1)
	assert.Equal(t, "=== api-schema.json ===\n"+content, texts[0])
}

func TestAppendDecision(t *testing.T) {
	local := t.TempDir()
	require.NoError(t, InitAlchDir(local))
	alch := filepath.Join(local, ".alchemistral")

	require.NoError(t, AppendDecision(alch, "split API into two services"))
	require.NoError(t, AppendDecision(alch, "use websockets for events"))

	log := ReadDecisions(alch)
	assert.Contains(t, log, "split API into two services")
	assert.Contains(t, log, "use websockets for events")
	assert.Regexp(t, `\[\d{4}-\d{2}-\d{2}T`, log)
}

func TestAgentMemories(t *testing.T) {
	local := t.TempDir()
	require.NoError(t, InitAlchDir(local))
	alch := filepath.Join(local, ".alchemistral")

	require.NoError(t, WriteAgentMemory(alch, "backend.md", "did backend things"))
	require.NoError(t, WriteAgentMemory(alch, "frontend.md", "did frontend things"))
	require.NoError(t, os.WriteFile(filepath.Join(alch, "agents", "notes.txt"), []byte("x"), 0o644))

	assert.Equal(t, []string{"backend.md", "frontend.md"}, ListAgentMemories(alch))
	assert.Equal(t, "did backend things", ReadAgentMemory(alch, "backend.md"))
	assert.Empty(t, ReadAgentMemory(alch, "missing.md"))
}

func TestReadArchitectureDefaultsToEmptyObject(t *testing.T) {
	assert.Equal(t, "{}", ReadArchitecture(t.TempDir()))
}
