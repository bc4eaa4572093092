package events

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func actor(s string) *string { return &s }

func TestAppendAndReadAllFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wu-events.jsonl")

	e1 := Event{WUID: "WU-1", Kind: KindCreated, Timestamp: time.Now(), ActorID: nil}
	e2 := Event{WUID: "WU-1", Kind: KindClaimed, Timestamp: time.Now(), ActorID: actor("agent-a")}

	require.NoError(t, Append(path, e1))
	require.NoError(t, Append(path, e2))

	got, err := ReadAllFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, KindCreated, got[0].Kind)
	require.Equal(t, KindClaimed, got[1].Kind)
	require.Equal(t, "agent-a", *got[1].ActorID)
}

func TestReadAllFileMissingReturnsEmpty(t *testing.T) {
	got, err := ReadAllFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadAllFileToleratesTrailingBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	content := `{"wu_id":"WU-1","kind":"created","timestamp":"2025-01-01T00:00:00Z","actor_id":null}
` + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := ReadAllFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestReadAllFileIgnoresCorruptTruncatedTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	content := `{"wu_id":"WU-1","kind":"created","timestamp":"2025-01-01T00:00:00Z","actor_id":null}
{"wu_id":"WU-2","kind":"claimed","timesta` // deliberately truncated, no trailing \n
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := ReadAllFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestReadAllFileRejectsCorruptInteriorLineWithLineNumber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	content := `{"wu_id":"WU-1","kind":"created","timestamp":"2025-01-01T00:00:00Z","actor_id":null}
not json at all
{"wu_id":"WU-2","kind":"claimed","timestamp":"2025-01-01T00:01:00Z","actor_id":null}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := ReadAllFile(path)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 2, perr.Line)
}

func TestValidateRejectsUnknownKindAndMissingFields(t *testing.T) {
	require.Error(t, Event{Kind: KindCreated, Timestamp: time.Now()}.Validate())
	require.Error(t, Event{WUID: "WU-1", Kind: "bogus", Timestamp: time.Now()}.Validate())
	require.Error(t, Event{WUID: "WU-1", Kind: KindCreated}.Validate())
	require.NoError(t, Event{WUID: "WU-1", Kind: KindCreated, Timestamp: time.Now()}.Validate())
}

func TestAppendRejectsInvalidEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	err := Append(path, Event{WUID: "", Kind: KindCreated, Timestamp: time.Now()})
	require.Error(t, err)
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = Append(path, Event{
				WUID:      "WU-1",
				Kind:      KindCheckpoint,
				Timestamp: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	got, err := ReadAllFile(path)
	require.NoError(t, err)
	require.Len(t, got, 20)
}
