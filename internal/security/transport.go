// Package security guards outbound HTTP to customer-supplied URLs.
//
// Channel configs carry arbitrary URLs (generic webhooks, Slack, Discord and
// Teams incoming webhooks). Every connection made on their behalf resolves the
// host first and refuses to dial loopback, private, link-local (cloud
// metadata) and other internal ranges listed in types.SSRFBlockedCIDRs.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"hookrouter/internal/types"
)

// dnsTimeout bounds every resolution done by the guard.
const dnsTimeout = 500 * time.Millisecond

var (
	ErrSSRFBlocked          = errors.New("ssrf: request to blocked IP range")
	ErrSSRFDNSTimeout       = errors.New("ssrf: DNS resolution timeout")
	ErrSSRFTooManyRedirects = errors.New("ssrf: too many redirects")
	ErrSSRFDNSFailed        = errors.New("ssrf: DNS resolution failed")
)

var (
	blockedNets []*net.IPNet
	initOnce    sync.Once
	initErr     error
)

func initBlockedNets() error {
	initOnce.Do(func() {
		blockedNets = make([]*net.IPNet, 0, len(types.SSRFBlockedCIDRs))
		for _, cidr := range types.SSRFBlockedCIDRs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				initErr = fmt.Errorf("ssrf: failed to parse CIDR %q: %w", cidr, err)
				return
			}
			blockedNets = append(blockedNets, ipNet)
		}
	})
	return initErr
}

func isBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// IsSSRFError reports whether err came from the guard rather than the remote.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) ||
		errors.Is(err, ErrSSRFDNSTimeout) ||
		errors.Is(err, ErrSSRFTooManyRedirects) ||
		errors.Is(err, ErrSSRFDNSFailed)
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard resolves hosts and rejects blocked addresses.
type Guard struct {
	// Resolver is used for DNS lookups. If nil, net.DefaultResolver is used.
	Resolver Resolver
}

// NewGuard parses the blocklist once and returns a Guard.
func NewGuard() (*Guard, error) {
	if err := initBlockedNets(); err != nil {
		return nil, fmt.Errorf("ssrf: initialization failed: %w", err)
	}
	return &Guard{}, nil
}

func (g *Guard) resolver() Resolver {
	if g.Resolver != nil {
		return g.Resolver
	}
	return net.DefaultResolver
}

// Resolve returns the addresses of host after checking every one of them.
// All resolved addresses must be safe so a DNS answer mixing public and
// private records cannot be used for rebinding.
func (g *Guard) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, ip)
		}
		return []net.IP{ip}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := g.resolver().LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrSSRFDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrSSRFDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrSSRFDNSFailed, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if isBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrSSRFBlocked, a.IP, host)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// ValidateURL is the pre-flight check used when a rule is saved.
func (g *Guard) ValidateURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("%w: unable to extract host from URL", ErrSSRFBlocked)
	}
	_, err = g.Resolve(ctx, parsed.Hostname())
	return err
}

// DialContext dials the first resolved address of addr after validation.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}
	ips, err := g.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect func that enforces
// maxRedirects and re-validates every redirect target.
func (g *Guard) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrSSRFTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrSSRFBlocked)
		}
		_, err := g.Resolve(req.Context(), host)
		return err
	}
}

// SafeTransport is an http.RoundTripper whose dialer goes through a Guard.
type SafeTransport struct {
	Guard *Guard
	Base  *http.Transport
}

// NewSafeTransport wraps base (or a clone of the default transport) so every
// dial is validated by guard.
func NewSafeTransport(guard *Guard, base *http.Transport) *SafeTransport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	base.Proxy = nil
	base.DialContext = guard.DialContext
	return &SafeTransport{Guard: guard, Base: base}
}

func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

// NewSafeHTTPClient builds the client used for customer-supplied URLs.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) (*http.Client, error) {
	guard, err := NewGuard()
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport:     NewSafeTransport(guard, nil),
		Timeout:       timeout,
		CheckRedirect: guard.CheckRedirect(maxRedirects),
	}, nil
}
