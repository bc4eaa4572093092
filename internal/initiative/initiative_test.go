package initiative

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenflow-dev/lumenflow/internal/txn"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsZeroValue(t *testing.T) {
	init, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, init.WUs)
}

func TestAddAndRemoveWUDedupesAndSorts(t *testing.T) {
	init := Initiative{Title: "Auth overhaul"}
	init = AddWU(init, "WU-10")
	init = AddWU(init, "WU-2")
	init = AddWU(init, "WU-10")
	require.Equal(t, []string{"WU-10", "WU-2"}, init.WUs)

	init = RemoveWU(init, "WU-10")
	require.Equal(t, []string{"WU-2"}, init.WUs)
}

func TestStageBidirectionalUpdateMovesWUBetweenFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.yaml")
	newPath := filepath.Join(dir, "new.yaml")

	data, err := Marshal(Initiative{Title: "Old", WUs: []string{"WU-1", "WU-2"}})
	require.NoError(t, err)
	require.NoError(t, writeFile(oldPath, data))

	snap, err := txn.TakeSnapshot([]string{oldPath, newPath})
	require.NoError(t, err)
	tr := txn.New("WU-1", snap)

	require.NoError(t, StageBidirectionalUpdate(tr, oldPath, newPath, "WU-1"))
	result, err := tr.Commit()
	require.NoError(t, err)
	require.True(t, result.OK)

	old, err := Load(oldPath)
	require.NoError(t, err)
	require.Equal(t, []string{"WU-2"}, old.WUs)

	next, err := Load(newPath)
	require.NoError(t, err)
	require.Equal(t, []string{"WU-1"}, next.WUs)
}

func TestStageBidirectionalUpdateNoopWhenSameInitiative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.yaml")
	data, err := Marshal(Initiative{WUs: []string{"WU-1"}})
	require.NoError(t, err)
	require.NoError(t, writeFile(path, data))

	snap, err := txn.TakeSnapshot([]string{path})
	require.NoError(t, err)
	tr := txn.New("WU-1", snap)
	require.NoError(t, StageBidirectionalUpdate(tr, path, path, "WU-1"))
	result, err := tr.Commit()
	require.NoError(t, err)
	require.True(t, result.OK)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
