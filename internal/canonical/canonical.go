// Package canonical reduces URLs to the stable form used for cache keys.
package canonical

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrNotAbsolute is returned for inputs that do not parse as absolute URLs.
var ErrNotAbsolute = errors.New("canonical: url is not absolute")

// defaultTrackingParams lists query parameters that never change page content.
var defaultTrackingParams = []string{
	"fbclid",
	"gclid",
	"gclsrc",
	"dclid",
	"msclkid",
	"mc_cid",
	"mc_eid",
	"_ga",
	"_gl",
	"yclid",
	"igshid",
	"ref_src",
}

const utmPrefix = "utm_"

// Canonicalizer strips tracking state from URLs. The denylist is fixed at
// construction and never mutated, so a Canonicalizer is safe to share.
type Canonicalizer struct {
	denied map[string]struct{}
}

// New builds a Canonicalizer from the default denylist plus extra names.
func New(extraParams ...string) *Canonicalizer {
	denied := make(map[string]struct{}, len(defaultTrackingParams)+len(extraParams))
	for _, name := range defaultTrackingParams {
		denied[name] = struct{}{}
	}
	for _, name := range extraParams {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			denied[name] = struct{}{}
		}
	}
	return &Canonicalizer{denied: denied}
}

var defaultCanonicalizer = New()

// Canonicalize applies the default denylist.
func Canonicalize(raw string) (string, error) {
	return defaultCanonicalizer.Canonicalize(raw)
}

// Canonicalize returns the canonical form of raw: fragment removed, host
// lowercased, tracking parameters dropped and the rest sorted by name.
// Values sharing a name keep their relative order.
func (c *Canonicalizer) Canonicalize(raw string) (string, error) {
	u, err := parseAbsolute(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)

	u.RawQuery = c.filterQuery(u.RawQuery)
	u.ForceQuery = false
	return u.String(), nil
}

type queryPair struct {
	name string
	raw  string
}

// filterQuery keeps each surviving pair byte-for-byte. url.ParseQuery is
// not used because it silently discards pairs it cannot parse, such as
// values containing ';' or a bad escape.
func (c *Canonicalizer) filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	pairs := make([]queryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if c.isTracking(name) {
			continue
		}
		pairs = append(pairs, queryPair{name: name, raw: part})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })

	kept := make([]string, len(pairs))
	for i, p := range pairs {
		kept[i] = p.raw
	}
	return strings.Join(kept, "&")
}

func (c *Canonicalizer) isTracking(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, utmPrefix) {
		return true
	}
	_, ok := c.denied[lower]
	return ok
}

// TrackingParams returns the sorted denylist, excluding the utm_ prefix rule.
func (c *Canonicalizer) TrackingParams() []string {
	names := make([]string, 0, len(c.denied))
	for name := range c.denied {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hostname returns the lowercased hostname of an absolute URL, without port.
func Hostname(raw string) (string, error) {
	u, err := parseAbsolute(raw)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}

// MatchHost normalizes a hostname for allowlist comparison. Only the match
// key drops www.; fetches keep the original host.
func MatchHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

func parseAbsolute(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNotAbsolute
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAbsolute, err)
	}
	if !u.IsAbs() || u.Host == "" || u.Hostname() == "" {
		return nil, ErrNotAbsolute
	}
	return u, nil
}
