package vault

import "context"

// StaticClient is a fixed-map stand-in for Client used by Store and
// dispatcher tests that need a predictable pull source without a live
// network service.
type StaticClient struct {
	Values map[string][]byte // key: vaultName+"/"+secretName
	Err    error
}

func (c *StaticClient) Fetch(_ context.Context, vaultName, secretName, _ string) ([]byte, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	v, ok := c.Values[vaultName+"/"+secretName]
	if !ok {
		return nil, &Error{Kind: ErrTransport, Err: errNotFound(secretName)}
	}
	return v, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "vault secret not found: " + string(e) }

func errNotFound(name string) error { return notFoundErr(name) }
