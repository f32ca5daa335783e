package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/Azure/azsecret/internal/metrics"
	"github.com/Azure/azsecret/internal/resilience"
)

const keyVaultAPIVersion = "7.4"

// AzureKeyVault is the Azure Key Vault-shaped Remote Vault client. The
// core hands it an already-acquired bearer token on every Pull call;
// when no token is supplied, Fetch falls back to an azidentity-backed
// credential configured at construction time via WithCredential, so the
// daemon can bootstrap its own managed-identity token rather than
// require every caller to source one out-of-band.
type AzureKeyVault struct {
	pipeline   runtime.Pipeline
	retry      resilience.RetryConfig
	timeout    time.Duration
	credential azcore.TokenCredential
	scope      string
}

// Option configures an AzureKeyVault at construction time.
type Option func(*AzureKeyVault)

// WithCredential sets the fallback azcore.TokenCredential (typically an
// azidentity credential such as DefaultAzureCredential) and OAuth2
// scope Fetch uses via TokenFromCredential when the caller supplies no
// bearer token.
func WithCredential(cred azcore.TokenCredential, scope string) Option {
	return func(c *AzureKeyVault) {
		c.credential = cred
		c.scope = scope
	}
}

// NewAzureKeyVault builds a client using azcore's transport pipeline
// for the HTTP plumbing (redirect/retry-safe request construction),
// with azsecret's own retry policy layered on top so 401/403 can be
// special-cased as non-retryable.
func NewAzureKeyVault(timeout time.Duration, opts ...Option) *AzureKeyVault {
	pipeline := runtime.NewPipeline("azsecret-vault", "v1", runtime.PipelineOptions{}, nil)
	c := &AzureKeyVault{
		pipeline: pipeline,
		retry:    resilience.DefaultRetryConfig(),
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type keyVaultSecretResponse struct {
	Value string `json:"value"`
}

// Fetch reads secretName from vaultName (a full vault base URL, e.g.
// https://myvault.vault.azure.net) using authToken as a bearer
// credential. When authToken is empty and a credential was configured
// via WithCredential, a token is acquired from it first. Transient
// transport errors are retried with full jitter; 401/403 surface
// immediately as Forbidden.
func (c *AzureKeyVault) Fetch(ctx context.Context, vaultName, secretName, authToken string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if authToken == "" && c.credential != nil {
		token, err := TokenFromCredential(ctx, c.credential, c.scope)
		if err != nil {
			return nil, &Error{Kind: ErrTransport, Err: err}
		}
		authToken = token
	}

	start := time.Now()
	var plaintext []byte
	err := resilience.Retry(ctx, c.retry, isRetryableVaultErr, func() error {
		body, err := c.get(ctx, vaultName, secretName, authToken)
		if err != nil {
			return err
		}
		var resp keyVaultSecretResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return &Error{Kind: ErrTransport, Err: fmt.Errorf("decode secret bundle: %w", err)}
		}
		plaintext = []byte(resp.Value)
		return nil
	})
	metrics.RecordVaultFetch(err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (c *AzureKeyVault) get(ctx context.Context, vaultName, secretName, authToken string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/secrets/%s?api-version=%s", vaultName, url.PathEscape(secretName), keyVaultAPIVersion)
	req, err := runtime.NewRequest(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Err: err}
	}
	req.Raw().Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: ErrVaultForbidden, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 300:
		return nil, &Error{Kind: ErrTransport, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
	return body, nil
}

func isRetryableVaultErr(err error) bool {
	if ve, ok := AsError(err); ok {
		return ve.Kind == ErrTransport
	}
	return true
}

// TokenFromCredential asks cred (typically an azidentity credential
// such as DefaultAzureCredential) for a token in the given scope. Fetch
// calls it as a fallback when no caller-supplied token is available.
func TokenFromCredential(ctx context.Context, cred azcore.TokenCredential, scope string) (string, error) {
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return "", fmt.Errorf("acquire vault token: %w", err)
	}
	return token.Token, nil
}
