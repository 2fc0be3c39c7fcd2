// Package secret is the TTL-scoped key/value store fronting job-submitted
// cloud credentials and the LM client signing key. Values are written once,
// read at most once by the executor, and expire whether or not they were
// read. Callers only ever address the store by the single key they were
// handed; there is deliberately no list operation.
package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ruleengine/controlplane/internal/platform"
)

// Store is the narrow secret interface job admission needs.
type Store interface {
	// Create writes a secret under name with a time-to-live.
	Create(ctx context.Context, name, value string, ttl time.Duration) error
	// Get reads a secret; "" when absent or expired.
	Get(ctx context.Context, name string) (string, error)
	// Delete removes a secret.
	Delete(ctx context.Context, name string) error
}

// PrepareName builds a fresh credentials key for a tenant's job.
func PrepareName(tenantName string) string {
	slug := strings.ToLower(strings.ReplaceAll(tenantName, " ", "-"))
	return fmt.Sprintf("ruleengine.%s-%s", slug, uuid.New().String())
}

// envelope wraps a stored value with its expiry so TTL enforcement does not
// depend on the backing store supporting native expiration.
type envelope struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SSMStore backs Store with SSM Parameter Store. Expiry is enforced at read
// time and by best-effort deletion, since Parameter Store has no native TTL.
type SSMStore struct {
	ssm *platform.SSMClient
}

// NewSSMStore creates an SSM-backed secret store.
func NewSSMStore(ssm *platform.SSMClient) *SSMStore {
	return &SSMStore{ssm: ssm}
}

func (s *SSMStore) Create(ctx context.Context, name, value string, ttl time.Duration) error {
	raw, err := json.Marshal(envelope{Value: value, ExpiresAt: time.Now().UTC().Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshalling secret envelope: %w", err)
	}
	return s.ssm.PutSecret(ctx, name, string(raw))
}

func (s *SSMStore) Get(ctx context.Context, name string) (string, error) {
	raw, err := s.ssm.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Not an envelope: the value was written directly (signing key).
		return raw, nil
	}
	if time.Now().UTC().After(env.ExpiresAt) {
		_ = s.ssm.DeleteSecret(ctx, name)
		return "", nil
	}
	return env.Value, nil
}

func (s *SSMStore) Delete(ctx context.Context, name string) error {
	return s.ssm.DeleteSecret(ctx, name)
}
