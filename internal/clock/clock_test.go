package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixed(base)
	require.Equal(t, base, c.Now())

	advanced := c.Advance(time.Hour)
	require.Equal(t, base.Add(time.Hour), advanced)
	require.Equal(t, base.Add(time.Hour), c.Now())

	c.Set(base)
	require.Equal(t, base, c.Now())
}

func TestSystemClockIsUTC(t *testing.T) {
	c := NewSystem()
	require.Equal(t, time.UTC, c.Now().Location())
}
