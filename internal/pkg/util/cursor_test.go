package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := EncodeCursor(42)
	require.NotEmpty(t, cursor)

	seq, err := DecodeCursor(cursor)
	require.NoError(t, err)
	require.Equal(t, uint64(42), seq)
}

func TestCursorEmptyMeansLatestPage(t *testing.T) {
	require.Empty(t, EncodeCursor(0))

	seq, err := DecodeCursor("")
	require.NoError(t, err)
	require.Zero(t, seq)
}

func TestCursorRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"not-base64!!", "aGVsbG8=", "eyJzZXEiOjB9"} {
		_, err := DecodeCursor(bad)
		require.ErrorIs(t, err, ErrCursorInvalid, "cursor %q", bad)
	}
}
