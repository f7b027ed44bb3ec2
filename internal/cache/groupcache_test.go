package cache

import (
	"testing"
	"time"

	"groupbin/internal/model"

	"github.com/stretchr/testify/require"
)

func TestPutGetInvalidate(t *testing.T) {
	c, err := NewGroupCache(2)
	require.NoError(t, err)

	g := model.Group{ID: "g1", Name: "one", CreatedAt: time.Now()}
	_, ok := c.Get("g1")
	require.False(t, ok)

	c.Put(g)
	got, ok := c.Get("g1")
	require.True(t, ok)
	require.Equal(t, g.Name, got.Name)

	c.Invalidate("g1")
	_, ok = c.Get("g1")
	require.False(t, ok)
}

func TestEviction(t *testing.T) {
	c, err := NewGroupCache(1)
	require.NoError(t, err)

	c.Put(model.Group{ID: "g1"})
	c.Put(model.Group{ID: "g2"})

	require.Equal(t, 1, c.Len())
	_, ok := c.Get("g1")
	require.False(t, ok)
	_, ok = c.Get("g2")
	require.True(t, ok)
}
