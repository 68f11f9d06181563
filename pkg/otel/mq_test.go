package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMQHeaderCarrier(t *testing.T) {
	c := NewMQHeaderCarrier(nil)
	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent"}, c.Keys())

	c2 := NewMQHeaderCarrier(map[string]interface{}{"n": 3})
	assert.Equal(t, "", c2.Get("n"))
}
