package generic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ResetsOnPut(t *testing.T) {
	pool := NewPool(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	buf := pool.Get()
	buf.WriteString("dirty")
	pool.Put(buf)
	assert.Zero(t, buf.Len())

	assert.NotNil(t, pool.Get())
}
