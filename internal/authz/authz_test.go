package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Azure/azsecret/internal/record"
)

func TestAuthorizeAllowsMatchingRule(t *testing.T) {
	p := NewPolicy([]Rule{
		{PrincipalMatch: "alice", Allow: []record.Operation{record.OpGet, record.OpSet}, IDPattern: "db-*"},
	})
	assert.True(t, p.Authorize("alice", record.OpGet, "db-password"))
	assert.True(t, p.Authorize("alice", record.OpSet, "db-password"))
	assert.False(t, p.Authorize("alice", record.OpDelete, "db-password"))
}

func TestAuthorizeDefaultDenyWhenNoRuleMatches(t *testing.T) {
	p := NewPolicy([]Rule{
		{PrincipalMatch: "alice", Allow: []record.Operation{record.OpGet}, IDPattern: "db-*"},
	})
	assert.False(t, p.Authorize("bob", record.OpGet, "db-password"))
	assert.False(t, p.Authorize("alice", record.OpGet, "other-secret"))
}

func TestAuthorizeFirstMatchWins(t *testing.T) {
	p := NewPolicy([]Rule{
		{PrincipalMatch: "*", Allow: nil, IDPattern: "secret-*"}, // matches first, denies (empty allow)
		{PrincipalMatch: "*", Allow: []record.Operation{record.OpGet}, IDPattern: "*"},
	})
	// The first rule matches id "secret-x" and denies every op, even
	// though the second, more permissive rule would have allowed it.
	assert.False(t, p.Authorize("alice", record.OpGet, "secret-x"))
	// For an id the first rule doesn't match, the second rule applies.
	assert.True(t, p.Authorize("alice", record.OpGet, "other"))
}

func TestAuthorizeGlobPatterns(t *testing.T) {
	p := NewPolicy([]Rule{
		{PrincipalMatch: "svc-*", Allow: []record.Operation{record.OpPull}, IDPattern: "api-key-?"},
	})
	assert.True(t, p.Authorize("svc-oracle", record.OpPull, "api-key-1"))
	assert.False(t, p.Authorize("svc-oracle", record.OpPull, "api-key-12"))
	assert.False(t, p.Authorize("other", record.OpPull, "api-key-1"))
}

func TestAuthorizeEmptyPolicyDeniesEverything(t *testing.T) {
	p := NewPolicy(nil)
	assert.False(t, p.Authorize("anyone", record.OpGet, "anything"))
}
