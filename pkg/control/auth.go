package control

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
)

// Credential is one Basic Auth identity the Control Surface accepts.
// ReadOnly credentials may only reach GET endpoints; POST handlers
// reject them, matching spec.md §4.8/§6's "read-only credentials cannot
// POST actions" rule.
type Credential struct {
	Username string
	Password string
	ReadOnly bool
}

type identityKey struct{}

// Identity is the authenticated caller attached to a request's context
// by Authenticator.Middleware.
type Identity struct {
	Via      string // "basic" or "allowlist"
	ReadOnly bool
}

// IdentityFromContext extracts the Identity stashed by Middleware, if
// any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator grants or denies requests against a Basic Auth
// credential list and a host/network allow-list, mirroring
// original_source's credentials.c authentication chain: a caller
// matching either is let through, an allow-listed host trusted in full
// (it is presumed to be the admin console or another Warden instance).
type Authenticator struct {
	mu          sync.RWMutex
	credentials []Credential
	allowedNets []*net.IPNet
	allowedIPs  []net.IP
}

// NewAuthenticator returns an Authenticator with nothing allowed yet.
func NewAuthenticator() *Authenticator {
	return &Authenticator{}
}

// AddCredential registers a Basic Auth identity.
func (a *Authenticator) AddCredential(username, password string, readOnly bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credentials = append(a.credentials, Credential{Username: username, Password: password, ReadOnly: readOnly})
}

// AllowHost admits requests whose remote address resolves to ip,
// regardless of credentials.
func (a *Authenticator) AllowHost(ip net.IP) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedIPs = append(a.allowedIPs, ip)
}

// AllowNet admits requests whose remote address falls inside cidr.
func (a *Authenticator) AllowNet(cidr *net.IPNet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedNets = append(a.allowedNets, cidr)
}

// Middleware authenticates every request against the allow-list first,
// then Basic Auth credentials, rejecting with 401 if neither matches.
// The resolved Identity is stashed in the request context for handlers
// (notably the POST action handlers) to consult.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := a.matchAllowList(r); ok {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
			return
		}
		if id, ok := a.matchBasicAuth(r); ok {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="warden"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// RequireWrite is layered on top of Middleware for POST routes: it
// rejects an authenticated-but-read-only Identity with 403.
func RequireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if ok && id.ReadOnly {
			http.Error(w, "read-only credentials cannot perform actions", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func (a *Authenticator) matchAllowList(r *http.Request) (Identity, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	remote := net.ParseIP(host)
	if remote == nil {
		return Identity{}, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ip := range a.allowedIPs {
		if ip.Equal(remote) {
			return Identity{Via: "allowlist"}, true
		}
	}
	for _, n := range a.allowedNets {
		if n.Contains(remote) {
			return Identity{Via: "allowlist"}, true
		}
	}
	return Identity{}, false
}

func (a *Authenticator) matchBasicAuth(r *http.Request) (Identity, bool) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return Identity{}, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, cred := range a.credentials {
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(cred.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(cred.Password)) == 1
		if userMatch && passMatch {
			return Identity{Via: "basic", ReadOnly: cred.ReadOnly}, true
		}
	}
	return Identity{}, false
}
