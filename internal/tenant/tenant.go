// Package tenant resolves API credentials to read-only tenant records.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/canonical"
)

// ErrCorruptRecord marks a stored record that does not decode.
var ErrCorruptRecord = errors.New("tenant: corrupt record")

// Tenant is the read-only view of a customer account.
type Tenant struct {
	ID      string             `json:"id"`
	Plan    string             `json:"plan"`
	Domains []string           `json:"domains"`
	Bots    botclass.Overrides `json:"bots"`
}

// Normalized returns a copy whose Domains are lowercased, stripped of a
// leading www. and deduplicated.
func (t Tenant) Normalized() Tenant {
	seen := make(map[string]struct{}, len(t.Domains))
	domains := make([]string, 0, len(t.Domains))
	for _, d := range t.Domains {
		d = canonical.MatchHost(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	t.Domains = domains
	return t
}

// Allows reports whether matchHost is a literal member of the allowlist.
// Subdomains are not implied.
func (t Tenant) Allows(matchHost string) bool {
	matchHost = canonical.MatchHost(matchHost)
	if matchHost == "" {
		return false
	}
	for _, d := range t.Domains {
		if canonical.MatchHost(d) == matchHost {
			return true
		}
	}
	return false
}

// Lookup finds the tenant owning a credential. A miss is (Tenant{}, false, nil);
// errors mean the backing store could not answer.
type Lookup interface {
	Name() string
	Find(ctx context.Context, credential string) (Tenant, bool, error)
}

// Decode parses a stored tenant record.
func Decode(raw []byte) (Tenant, error) {
	var t Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tenant{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if strings.TrimSpace(t.ID) == "" {
		return Tenant{}, fmt.Errorf("%w: missing id", ErrCorruptRecord)
	}
	return t.Normalized(), nil
}

// Encode serializes a tenant record for storage.
func Encode(t Tenant) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode tenant: %w", err)
	}
	return raw, nil
}
