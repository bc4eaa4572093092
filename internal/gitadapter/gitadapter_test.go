package gitadapter

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapWriterTruncatesAtLimit(t *testing.T) {
	var buf bytes.Buffer
	w := &capWriter{buf: &buf, limit: 10}

	n, err := w.Write([]byte("0123456789ABCDEF"))
	require.NoError(t, err)
	require.Equal(t, 16, n) // reports the full length so io.Copy doesn't treat it as a short write
	require.Equal(t, "0123456789", buf.String())

	n, err = w.Write([]byte("more"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "0123456789", buf.String()) // nothing more appended past the cap
}

func TestNewDefaultsAreSane(t *testing.T) {
	g := New(0, 0)
	require.NotNil(t, g)
}

func TestRunJoinsArgsForLogging(t *testing.T) {
	// Exercise the arg-joining path indirectly: a nonexistent repo dir makes
	// git fail fast, proving the adapter builds and returns a wrapped error
	// rather than panicking on a bad working directory.
	g := New(0, 0)
	_, err := g.CommitHash(context.Background(), "/nonexistent-dir-for-lumenflow-tests", "HEAD")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "git"))
}
