package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Azure/azsecret/internal/config"
)

func u32(n uint32) *uint32 { return &n }

func TestResolveMatchesUIDAndGID(t *testing.T) {
	r := NewPrincipalResolver([]config.PrincipalMapping{
		{UID: u32(1000), GID: u32(1000), Principal: "alice"},
		{UID: u32(1001), Principal: "bob"},
		{Principal: "anonymous"},
	})

	p, ok := r.Resolve(1000, 1000)
	assert.True(t, ok)
	assert.Equal(t, "alice", p)

	p, ok = r.Resolve(1001, 9999)
	assert.True(t, ok)
	assert.Equal(t, "bob", p)

	p, ok = r.Resolve(42, 42)
	assert.True(t, ok)
	assert.Equal(t, "anonymous", p)
}

func TestResolveNoMatchWithoutCatchAll(t *testing.T) {
	r := NewPrincipalResolver([]config.PrincipalMapping{
		{UID: u32(1000), Principal: "alice"},
	})
	_, ok := r.Resolve(42, 42)
	assert.False(t, ok)
}
