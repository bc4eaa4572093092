package civildate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRoundTripIsFixedPoint checks P6: for any calendar date, String (write)
// followed by Parse (read) followed by String (write) again never drifts —
// no YYYY-MM-DD round trip ever picks up a time-of-day or timezone
// component along the way.
func TestRoundTripIsFixedPoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		year := rapid.IntRange(1, 9999).Draw(rt, "year")
		month := rapid.IntRange(1, 12).Draw(rt, "month")
		day := rapid.IntRange(1, 28).Draw(rt, "day") // 28 keeps every month valid

		d := MustParse(fmt.Sprintf("%04d-%02d-%02d", year, month, day))
		s1 := d.String()

		reparsed, err := Parse(s1)
		require.NoError(t, err)
		s2 := reparsed.String()

		require.Equal(t, s1, s2)
		require.True(t, d.Equal(reparsed))
	})
}
