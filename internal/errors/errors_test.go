package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndRetryable(t *testing.T) {
	te := Transient("rate limited", nil)
	assert.True(t, IsRetryable(te))
	assert.Equal(t, KindTransient, KindOf(te))

	fe := Fatal("zero chunks", nil)
	assert.False(t, IsRetryable(fe))
	assert.Equal(t, KindFatal, KindOf(fe))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestIsMatchesByKind(t *testing.T) {
	a := NotFound("chunk 1")
	b := NotFound("chunk 2")
	assert.True(t, errors.Is(a, b))

	c := Validation("bad input")
	assert.False(t, errors.Is(a, c))
}

func TestWithDetail(t *testing.T) {
	e := Storage("pool exhausted", nil).WithDetail("pool_size", "10")
	assert.Equal(t, "10", e.Details["pool_size"])
}
