package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/notaflow/notaflow/internal/domain"
)

// PendingDocument is one document the authority reports as addressed to the
// taxpayer and awaiting manifestation.
type PendingDocument struct {
	AccessKey string    `json:"access_key"`
	Emitter   string    `json:"emitter"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Receipt acknowledges an accepted manifestation event.
type Receipt struct {
	Protocol   string    `json:"protocol"`
	ReceivedAt time.Time `json:"received_at"`
}

// AuthorityClient is the outbound contract to the fiscal authority. Every
// call is bounded by its context; failures are reported upward and never
// retried here, retry policy belongs to the orchestrator.
type AuthorityClient interface {
	QueryPending(ctx context.Context, cnpj string) ([]PendingDocument, error)
	Fetch(ctx context.Context, accessKey string) ([]byte, error)
	Manifest(ctx context.Context, accessKey string, action ManifestationAction, justification string) (Receipt, error)
}

// HTTPAuthority speaks to an authority gateway over HTTP, authenticating
// each call with certificate material decrypted for the call's duration
// only.
type HTTPAuthority struct {
	baseURL string
	cert    domain.Certificate
	vault   *Vault
	client  *http.Client
}

// NewHTTPAuthority builds the client. timeout bounds each call in addition
// to the caller's context.
func NewHTTPAuthority(baseURL string, cert domain.Certificate, vault *Vault, timeout time.Duration) *HTTPAuthority {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAuthority{
		baseURL: baseURL,
		cert:    cert,
		vault:   vault,
		client:  &http.Client{Timeout: timeout},
	}
}

// QueryPending lists documents awaiting manifestation for the CNPJ.
func (h *HTTPAuthority) QueryPending(ctx context.Context, cnpj string) ([]PendingDocument, error) {
	var out []PendingDocument
	err := h.do(ctx, "/v1/pending", map[string]any{"cnpj": cnpj}, &out)
	return out, err
}

// Fetch retrieves the document payload by access key.
func (h *HTTPAuthority) Fetch(ctx context.Context, accessKey string) ([]byte, error) {
	var out struct {
		Payload []byte `json:"payload"`
	}
	if err := h.do(ctx, "/v1/fetch", map[string]any{"access_key": accessKey}, &out); err != nil {
		return nil, err
	}
	return out.Payload, nil
}

// Manifest registers the manifestation event against the access key.
func (h *HTTPAuthority) Manifest(ctx context.Context, accessKey string, action ManifestationAction, justification string) (Receipt, error) {
	code, ok := action.EventCode()
	if !ok {
		return Receipt{}, domain.NewIntegrationError(domain.IntegrationRejected,
			fmt.Errorf("unknown manifestation action %q", action))
	}
	body := map[string]any{
		"access_key": accessKey,
		"event_code": code,
	}
	if justification != "" {
		body["justification"] = justification
	}
	var out Receipt
	err := h.do(ctx, "/v1/manifest", body, &out)
	return out, err
}

// do runs one authenticated request. The certificate bundle is decrypted
// only for the duration of the call and zeroed before do returns.
func (h *HTTPAuthority) do(ctx context.Context, path string, body, out any) error {
	return h.vault.WithMaterial(h.cert, time.Now(), func(material []byte) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Certificate-CNPJ", h.cert.CNPJ)
		// The gateway holds the mTLS session keyed by bundle fingerprint;
		// only the fingerprint leaves this process.
		req.Header.Set("Authorization", "Bearer "+fingerprint(material))

		resp, err := h.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				return domain.NewIntegrationError(domain.IntegrationTimeout, err)
			}
			return domain.NewIntegrationError(domain.IntegrationRejected, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return domain.NewIntegrationError(domain.IntegrationAuthFailure,
				fmt.Errorf("authority returned %s", resp.Status))
		case resp.StatusCode == http.StatusGatewayTimeout:
			return domain.NewIntegrationError(domain.IntegrationTimeout,
				fmt.Errorf("authority returned %s", resp.Status))
		case resp.StatusCode >= 400:
			return domain.NewIntegrationError(domain.IntegrationRejected,
				fmt.Errorf("authority returned %s", resp.Status))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.NewIntegrationError(domain.IntegrationRejected,
				fmt.Errorf("failed to decode authority response: %w", err))
		}
		return nil
	})
}

func fingerprint(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:])
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
