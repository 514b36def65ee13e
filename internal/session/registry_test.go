package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

type countingReg struct{ removed int }

func (c *countingReg) Remove() { c.removed++ }

func TestRegistry_AttachAfterCancel(t *testing.T) {
	r := newRegistry("test")
	r.reserve("a", 1)
	r.cancel("a")

	reg := &countingReg{}
	assert.False(t, r.attach("a", 1, reg))
	assert.Equal(t, 1, reg.removed)
	assert.False(t, r.has("a"))
}

func TestRegistry_StaleToken(t *testing.T) {
	r := newRegistry("test")
	r.reserve("a", 1)
	r.cancel("a")
	r.reserve("a", 2)

	assert.False(t, r.current("a", 1))
	assert.True(t, r.current("a", 2))

	old := &countingReg{}
	assert.False(t, r.attach("a", 1, old))
	assert.Equal(t, 1, old.removed)

	fresh := &countingReg{}
	assert.True(t, r.attach("a", 2, fresh))
	assert.Zero(t, fresh.removed)
}

func TestRegistry_CancelAll(t *testing.T) {
	r := newRegistry("test")
	regs := []*countingReg{{}, {}}
	r.reserve("a", 1)
	r.attach("a", 1, regs[0])
	r.reserve("b", 2)
	r.attach("b", 2, regs[1])
	r.reserve("pending", 3)

	assert.Equal(t, []string{"a", "b", "pending"}, r.keys())
	assert.Equal(t, 3, r.cancelAll())
	assert.Zero(t, r.len())
	for _, reg := range regs {
		assert.Equal(t, 1, reg.removed)
	}
}

var _ gateway.Registration = (*countingReg)(nil)
