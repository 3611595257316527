package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryCounterSingleSpan(t *testing.T) {
	c := NewEntryCounter(1)
	assert.Equal(t, 1, c.Observe([]string{"42"}))
	assert.Equal(t, 0, c.Observe([]string{"42"}))
	assert.Equal(t, 0, c.Observe([]string{"42", "42"}))
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, 1, c.Present())
}

func TestEntryCounterToleratesDropouts(t *testing.T) {
	c := NewEntryCounter(3)
	c.Observe([]string{"7"})
	c.Observe(nil)
	c.Observe(nil)
	assert.Equal(t, 0, c.Observe([]string{"7"}), "two missed samples are tolerated")

	c.Observe(nil)
	c.Observe(nil)
	c.Observe(nil)
	assert.Equal(t, 0, c.Present())
	assert.Equal(t, 1, c.Observe([]string{"7"}))
	assert.Equal(t, 2, c.Count())
}

func TestEntryCounterSimultaneousObjects(t *testing.T) {
	c := NewEntryCounter(1)
	assert.Equal(t, 2, c.Observe([]string{"a", "b"}))
	assert.Equal(t, 1, c.Observe([]string{"a", "c"}))
	assert.Equal(t, 1, c.Observe([]string{"a", "b", "c"}))
	assert.Equal(t, 4, c.Count())
}
