package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryNavigation(t *testing.T) {
	h := NewHistory(0)
	h.Add("first")
	h.Add("second")
	h.Add("third")

	_, ok := h.Up("draft")
	assert.False(t, ok, "typing blocks recall")

	got, ok := h.Up("")
	assert.True(t, ok)
	assert.Equal(t, "third", got)
	got, _ = h.Up(got)
	assert.Equal(t, "second", got)
	got, _ = h.Up(got)
	assert.Equal(t, "first", got)
	_, ok = h.Up(got)
	assert.False(t, ok, "oldest entry reached")

	got, _ = h.Down()
	assert.Equal(t, "second", got)
	got, _ = h.Down()
	assert.Equal(t, "third", got)
	got, ok = h.Down()
	assert.True(t, ok)
	assert.Empty(t, got)
	_, ok = h.Down()
	assert.False(t, ok)

	h.Up("")
	h.Add("fourth")
	got, _ = h.Up("")
	assert.Equal(t, "fourth", got, "send resets navigation")
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(DefaultHistoryLimit)
	for i := 0; i < 60; i++ {
		h.Add(fmt.Sprintf("msg %d", i))
	}
	assert.Equal(t, DefaultHistoryLimit, h.Len())
	got, _ := h.Up("")
	assert.Equal(t, "msg 59", got)
}
