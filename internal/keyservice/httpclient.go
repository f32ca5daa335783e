package keyservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azsecret/internal/metrics"
	"github.com/Azure/azsecret/internal/resilience"
)

// HTTPClient talks to an external Key Service over HTTP. Its wire
// protocol (POST /keys to provision a handle, per-handle
// encrypt/decrypt endpoints) is grounded on the original KSClient's
// "create_key"/"get_key" REST surface, generalized to also carry the
// AEAD operations themselves so raw key material never has to leave
// the Key Service process.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewHTTPClient builds a client against endpoint with a per-RPC
// timeout and the default retry/circuit-breaker policy for transient
// upstream failures.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		timeout:    timeout,
		retry:      resilience.DefaultRetryConfig(),
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultConfig()),
	}
}

type createKeyRequest struct {
	KeyID string `json:"keyId"`
}

type createKeyResponse struct {
	KeyHandle string `json:"keyHandle"`
}

func (c *HTTPClient) GetOrCreateKey(ctx context.Context, id string) (string, error) {
	var handle string
	err := c.withRetry(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(createKeyRequest{KeyID: id})
		if err != nil {
			return &Error{Kind: ErrKeyUnavailable, Op: "get_or_create_key", Err: err}
		}
		var resp createKeyResponse
		if err := c.doJSON(ctx, http.MethodPost, "/keys", body, &resp); err != nil {
			return err
		}
		handle = resp.KeyHandle
		return nil
	})
	return handle, err
}

type cryptoRequest struct {
	Handle     string `json:"handle"`
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	IV         string `json:"iv,omitempty"`
	AAD        string `json:"aad"`
}

type cryptoResponse struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Plaintext  string `json:"plaintext"`
}

func (c *HTTPClient) Encrypt(ctx context.Context, handle string, plaintext, aad []byte) ([]byte, []byte, error) {
	var ciphertext, iv []byte
	err := c.withRetry(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(cryptoRequest{
			Handle:    handle,
			Plaintext: base64.StdEncoding.EncodeToString(plaintext),
			AAD:       base64.StdEncoding.EncodeToString(aad),
		})
		if err != nil {
			return &Error{Kind: ErrKeyUnavailable, Op: "encrypt", Err: err}
		}
		var resp cryptoResponse
		if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/keys/%s/encrypt", url.PathEscape(handle)), body, &resp); err != nil {
			return err
		}
		ciphertext, err = base64.StdEncoding.DecodeString(resp.Ciphertext)
		if err != nil {
			return &Error{Kind: ErrCryptoFailure, Op: "encrypt", Err: err}
		}
		iv, err = base64.StdEncoding.DecodeString(resp.IV)
		if err != nil {
			return &Error{Kind: ErrCryptoFailure, Op: "encrypt", Err: err}
		}
		return nil
	})
	return ciphertext, iv, err
}

func (c *HTTPClient) Decrypt(ctx context.Context, handle string, ciphertext, iv, aad []byte) ([]byte, error) {
	var plaintext []byte
	err := c.withRetry(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(cryptoRequest{
			Handle:     handle,
			Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
			IV:         base64.StdEncoding.EncodeToString(iv),
			AAD:        base64.StdEncoding.EncodeToString(aad),
		})
		if err != nil {
			return &Error{Kind: ErrKeyUnavailable, Op: "decrypt", Err: err}
		}
		var resp cryptoResponse
		if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/keys/%s/decrypt", url.PathEscape(handle)), body, &resp); err != nil {
			return err
		}
		plaintext, err = base64.StdEncoding.DecodeString(resp.Plaintext)
		if err != nil {
			return &Error{Kind: ErrCryptoFailure, Op: "decrypt", Err: err}
		}
		return nil
	})
	return plaintext, err
}

// withRetry wraps fn in the circuit breaker and retry policy. A 409
// (AEAD tag mismatch / policy denial) is a CryptoFailure and is never
// retried; everything else is treated as transient KeyUnavailable. Any
// error that survives the retry schedule is recorded by kind the way
// dispatcher.go records request outcomes.
func (c *HTTPClient) withRetry(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := resilience.Retry(ctx, c.retry, isRetryableKeyServiceErr, func() error {
		return c.breaker.Execute(ctx, func() error { return fn(ctx) })
	})
	if err != nil {
		kind := "unknown"
		if ke, ok := AsError(err); ok {
			kind = string(ke.Kind)
		}
		metrics.RecordKeyServiceError(kind)
	}
	return err
}

func isRetryableKeyServiceErr(err error) bool {
	if ke, ok := AsError(err); ok {
		return ke.Kind == ErrKeyUnavailable
	}
	return true
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: ErrKeyUnavailable, Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: ErrKeyUnavailable, Op: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: ErrKeyUnavailable, Op: path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Kind: ErrCryptoFailure, Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	case resp.StatusCode >= 300:
		return &Error{Kind: ErrKeyUnavailable, Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{Kind: ErrKeyUnavailable, Op: path, Err: err}
		}
	}
	return nil
}
