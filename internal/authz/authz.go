// Package authz implements the Authorizer (C5): an ordered rule-list
// scan deciding whether a resolved caller may perform an operation on
// a secret id. Generalizes the teacher's byte-flag ACL
// (packages/com.r3e.services.secrets/service/domain.go) into the
// rule-list shape spec's configuration already uses, matching both
// principal and id against glob patterns in which '*' is the only
// wildcard; '?' and every other character match only themselves.
package authz

import (
	"github.com/ryanuber/go-glob"

	"github.com/Azure/azsecret/internal/record"
)

// Rule is one line of the authorization policy. The first rule whose
// PrincipalMatch and IDPattern both match the request determines the
// outcome; rule order is significant and preserved from configuration
// input order.
type Rule struct {
	PrincipalMatch string
	Allow          []record.Operation
	IDPattern      string
}

func (r Rule) allows(op record.Operation) bool {
	for _, o := range r.Allow {
		if o == op {
			return true
		}
	}
	return false
}

// Policy is the full ordered rule list, immutable after it is loaded
// at startup.
type Policy struct {
	rules []Rule
}

func NewPolicy(rules []Rule) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...)}
}

// Authorize scans rules in order; the first rule whose principal match
// and id pattern both match determines the outcome. If no rule
// matches, the default is deny.
func (p *Policy) Authorize(principal string, op record.Operation, id record.ID) bool {
	for _, rule := range p.rules {
		if !glob.Glob(rule.PrincipalMatch, principal) {
			continue
		}
		if !glob.Glob(rule.IDPattern, id) {
			continue
		}
		return rule.allows(op)
	}
	return false
}
