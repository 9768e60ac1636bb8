// Package auth resolves API credentials to tenants and vets the requested
// target URL against the tenant's allowlist.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/canonical"
	"github.com/JakeFAU/crawler-edge/internal/detach"
	"github.com/JakeFAU/crawler-edge/internal/tenant"
)

// Resolution failures. Each maps to one tenant-facing status via HTTPStatus.
var (
	ErrMissingCredential  = errors.New("missing API key")
	ErrInvalidCredential  = errors.New("invalid API key")
	ErrBackendUnavailable = errors.New("authorization backend unavailable")
	ErrMalformedURL       = errors.New("url must be an absolute URL")
	ErrInsecureScheme     = errors.New("url must use https")
	ErrDomainNotAllowed   = errors.New("domain is not allowlisted for this key")
	ErrPrivateAddress     = errors.New("url targets a private or internal address")
)

// internalSuffixes are hostname endings that never name a public site.
var internalSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".lan",
	".home.arpa",
	".intranet",
	".corp",
}

// cgnat is the shared address space (RFC 6598), which netip does not flag.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Authorization is a successful resolution.
type Authorization struct {
	Tenant tenant.Tenant
	// TargetURL keeps the host exactly as requested; apex and www may differ.
	TargetURL *url.URL
	// MatchHost is the normalized host that matched the allowlist.
	MatchHost string
}

// Migrator receives legacy-era records so later lookups hit the hashed store.
type Migrator interface {
	Store(ctx context.Context, credential string, t tenant.Tenant) error
}

// Config wires a Resolver.
type Config struct {
	// Lookups are consulted in order; the first hit wins.
	Lookups []tenant.Lookup
	// Migrate, when set, receives records found by a legacy lookup.
	Migrate Migrator
	Runner  *detach.Runner
	Logger  *zap.Logger
}

// Resolver implements credential and target validation.
type Resolver struct {
	lookups []tenant.Lookup
	migrate Migrator
	runner  *detach.Runner
	logger  *zap.Logger
}

// legacy is implemented by lookups serving plaintext-era records.
type legacy interface {
	Legacy() bool
}

// NewResolver builds a Resolver from cfg.
func NewResolver(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = detach.New(logger, 0)
	}
	return &Resolver{
		lookups: append([]tenant.Lookup(nil), cfg.Lookups...),
		migrate: cfg.Migrate,
		runner:  runner,
		logger:  logger.Named("auth"),
	}
}

// Resolve authenticates credential and authorizes targetURL for its tenant.
func (r *Resolver) Resolve(ctx context.Context, credential, targetURL string) (Authorization, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Authorization{}, ErrMissingCredential
	}
	t, err := r.findTenant(ctx, credential)
	if err != nil {
		return Authorization{}, err
	}
	return Authorize(t, targetURL)
}

func (r *Resolver) findTenant(ctx context.Context, credential string) (tenant.Tenant, error) {
	var lookupFailed bool
	for _, lookup := range r.lookups {
		t, ok, err := lookup.Find(ctx, credential)
		if err != nil {
			lookupFailed = true
			r.logger.Warn("tenant lookup failed", zap.String("lookup", lookup.Name()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if l, isLegacy := lookup.(legacy); isLegacy && l.Legacy() && r.migrate != nil {
			r.runner.Go(ctx, "tenant-write-through", func(ctx context.Context) error {
				return r.migrate.Store(ctx, credential, t)
			})
		}
		return t, nil
	}
	if lookupFailed {
		return tenant.Tenant{}, ErrBackendUnavailable
	}
	return tenant.Tenant{}, ErrInvalidCredential
}

// Authorize checks that targetURL is an https URL on one of t's domains and
// not an obviously internal address. It does not resolve DNS; the allowlist
// is the primary control.
func Authorize(t tenant.Tenant, targetURL string) (Authorization, error) {
	u, err := url.Parse(strings.TrimSpace(targetURL))
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return Authorization{}, ErrMalformedURL
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return Authorization{}, ErrInsecureScheme
	}
	host := strings.ToLower(u.Hostname())
	match := canonical.MatchHost(host)
	if !t.Allows(match) {
		return Authorization{}, ErrDomainNotAllowed
	}
	if IsInternalHost(host) {
		return Authorization{}, ErrPrivateAddress
	}
	return Authorization{Tenant: t, TargetURL: u, MatchHost: match}, nil
}

// IsInternalHost reports whether host is a non-public IP literal or carries
// an internal-only suffix.
func IsInternalHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "" {
		return true
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return isPrivateAddr(addr)
	}
	if host == "localhost" {
		return true
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

// HTTPStatus maps a resolution error to its tenant-facing status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedURL), errors.Is(err, ErrInsecureScheme):
		return http.StatusBadRequest
	case errors.Is(err, ErrDomainNotAllowed), errors.Is(err, ErrPrivateAddress):
		return http.StatusForbidden
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
