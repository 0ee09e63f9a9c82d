package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

func entry(v value.Value) Entry {
	return Entry{Value: v, Scope: "system"}
}

func TestGetPut(t *testing.T) {
	c := New(time.Minute)

	_, ok := c.Get("business", "max_stay_hours", "")
	assert.False(t, ok)

	c.Put("business", "max_stay_hours", "", entry(value.Int(24)), time.Minute)

	got, ok := c.Get("business", "max_stay_hours", "")
	assert.True(t, ok)
	assert.True(t, got.Value.Equal(value.Int(24)))
	assert.Equal(t, "system", got.Scope)
}

func TestVariantsDoNotCollide(t *testing.T) {
	c := New(time.Minute)

	c.Put("business", "max_stay_hours", "@lot-1", entry(value.Int(48)), time.Minute)
	c.Put("business", "max_stay_hours", "@lot-2", entry(value.Int(12)), time.Minute)

	one, ok := c.Get("business", "max_stay_hours", "@lot-1")
	assert.True(t, ok)
	assert.True(t, one.Value.Equal(value.Int(48)))

	two, ok := c.Get("business", "max_stay_hours", "@lot-2")
	assert.True(t, ok)
	assert.True(t, two.Value.Equal(value.Int(12)))
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute)

	c.Put("business", "max_stay_hours", "@lot-1", entry(value.Int(48)), time.Minute)
	c.Put("business", "max_stay_hours", "@lot-2", entry(value.Int(12)), time.Minute)
	c.Put("business", "grace_period_minutes", "@lot-1", entry(value.Int(30)), time.Minute)

	c.Invalidate("business", "max_stay_hours")

	_, ok := c.Get("business", "max_stay_hours", "@lot-1")
	assert.False(t, ok, "all variants of the key must drop")
	_, ok = c.Get("business", "max_stay_hours", "@lot-2")
	assert.False(t, ok)

	_, ok = c.Get("business", "grace_period_minutes", "@lot-1")
	assert.True(t, ok, "sibling keys stay cached")
}

func TestInvalidateCategory(t *testing.T) {
	c := New(time.Minute)

	c.Put("business", "max_stay_hours", "", entry(value.Int(24)), time.Minute)
	c.Put("ui_theme", "primary_color", "", entry(value.String("#2563eb")), time.Minute)

	c.InvalidateCategory("business")

	_, ok := c.Get("business", "max_stay_hours", "")
	assert.False(t, ok)

	_, ok = c.Get("ui_theme", "primary_color", "")
	assert.True(t, ok, "other categories keep their generation")

	// A fresh put after invalidation lands in the new generation.
	c.Put("business", "max_stay_hours", "", entry(value.Int(48)), time.Minute)
	got, ok := c.Get("business", "max_stay_hours", "")
	assert.True(t, ok)
	assert.True(t, got.Value.Equal(value.Int(48)))
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute)

	c.Put("system_limits", "max_active_vehicles", "", entry(value.Int(500)), 10*time.Millisecond)

	_, ok := c.Get("system_limits", "max_active_vehicles", "")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, ok = c.Get("system_limits", "max_active_vehicles", "")
	assert.False(t, ok, "entries past their TTL are misses")
}

func TestZeroTTLFallsBackToDefault(t *testing.T) {
	c := New(time.Minute)

	c.Put("business", "max_stay_hours", "", entry(value.Int(24)), 0)

	_, ok := c.Get("business", "max_stay_hours", "")
	assert.True(t, ok)
}
