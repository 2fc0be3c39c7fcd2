package license

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruleengine/controlplane/internal/apierr"
)

// SigningKey is the KID + RSA private key pair used to sign outbound LM
// requests.
type SigningKey struct {
	KID string
	Key *rsa.PrivateKey
}

// ParseSigningKey decodes a PEM-encoded PKCS#8 or PKCS#1 RSA private key.
func ParseSigningKey(kid string, pemData []byte) (*SigningKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in signing key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &SigningKey{KID: kid, Key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return &SigningKey{KID: kid, Key: key}, nil
}

// GenerateSigningKey creates a fresh 2048-bit signing key, PEM-encoded.
func GenerateSigningKey(kid string) (*SigningKey, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generating signing key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding signing key: %w", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return &SigningKey{KID: kid, Key: key}, pemData, nil
}

// LMClient talks to the external License Manager. Every request body is
// signed with the deployment's key pair; LM validates by KID.
type LMClient struct {
	baseURL string
	key     *SigningKey
	http    *http.Client
	logger  *slog.Logger
}

// NewLMClient creates an LM client. key may be nil for deployments without
// LM connectivity; calls then fail with 503.
func NewLMClient(baseURL string, key *SigningKey, logger *slog.Logger) *LMClient {
	return &LMClient{
		baseURL: baseURL,
		key:     key,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *LMClient) do(ctx context.Context, method, path string, body any, out any) error {
	if c.baseURL == "" || c.key == nil {
		return apierr.ServiceUnavailable("license manager is not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling LM request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building LM request: %w", err)
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key.Key, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("signing LM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Key-Id", c.key.KID)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(sig))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("license manager unreachable", "path", path, "error", err)
		return apierr.ServiceUnavailable("license manager is unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apierr.ServiceUnavailable("license manager returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apierr.New(resp.StatusCode, "lm_error", "license manager: %s", string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding LM response: %w", err)
		}
	}
	return nil
}

// CheckPermission asks LM whether the tenant may exhaust the TLK for one
// more job.
func (c *LMClient) CheckPermission(ctx context.Context, customer, tenantName, tenantLicenseKey string) (bool, error) {
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	err := c.do(ctx, http.MethodPost, "/jobs/check-permission", map[string]string{
		"customer":           customer,
		"tenant":             tenantName,
		"tenant_license_key": tenantLicenseKey,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// RulesetReleasePayload is what LM expects per released ruleset.
type RulesetReleasePayload struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Cloud       string   `json:"cloud"`
	Description string   `json:"description"`
	DisplayName string   `json:"display_name"`
	DownloadURL string   `json:"download_url"`
	Rules       []string `json:"rules"`
}

// ReleaseRuleset publishes one ruleset version to LM.
func (c *LMClient) ReleaseRuleset(ctx context.Context, payload RulesetReleasePayload) error {
	return c.do(ctx, http.MethodPost, "/rulesets", payload, nil)
}
