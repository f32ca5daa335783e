package dispatcher

import "github.com/Azure/azsecret/internal/config"

// PrincipalResolver maps kernel-reported peer credentials onto the
// principal name the authorizer evaluates, per the ordered
// config.PrincipalMapping list loaded at startup.
type PrincipalResolver struct {
	mappings []config.PrincipalMapping
}

// NewPrincipalResolver builds a resolver from an immutable, ordered
// mapping list.
func NewPrincipalResolver(mappings []config.PrincipalMapping) *PrincipalResolver {
	return &PrincipalResolver{mappings: append([]config.PrincipalMapping(nil), mappings...)}
}

// Resolve returns the principal for (uid, gid), and false if no mapping
// entry matches — the dispatcher answers such requests 401
// Unauthorized without ever reaching the Store.
func (r *PrincipalResolver) Resolve(uid, gid uint32) (string, bool) {
	for _, m := range r.mappings {
		if m.UID != nil && *m.UID != uid {
			continue
		}
		if m.GID != nil && *m.GID != gid {
			continue
		}
		return m.Principal, true
	}
	return "", false
}
