// Package registry persists subscriber endpoints and their event filters,
// and guards registration against URLs that point back into internal
// networks.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an endpoint id is unknown.
	ErrNotFound = errors.New("endpoint not found")
	// ErrInvalidURL is returned when a URL fails validation at registration
	// or update time. It is never retried.
	ErrInvalidURL = errors.New("invalid endpoint url")
)

// Endpoint is an externally registered HTTP destination subscribed to one
// or more event types. An empty EventFilter subscribes to all events.
type Endpoint struct {
	ID          string
	OwnerID     string
	URL         string
	Secret      string
	EventFilter []string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Matches reports whether the endpoint subscribes to the given event type.
func (e *Endpoint) Matches(eventType string) bool {
	if len(e.EventFilter) == 0 {
		return true
	}
	for _, t := range e.EventFilter {
		if t == eventType {
			return true
		}
	}
	return false
}

// UpdateParams carries the mutable endpoint fields; nil means unchanged.
type UpdateParams struct {
	URL         *string
	EventFilter *[]string
	Active      *bool
}

// Store is the endpoint persistence contract.
type Store interface {
	Insert(ctx context.Context, e *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	Update(ctx context.Context, e *Endpoint) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, ownerID string) ([]*Endpoint, error)
	// FindActiveFor returns active endpoints subscribed to eventType.
	// An empty ownerID matches endpoints of every owner.
	FindActiveFor(ctx context.Context, eventType, ownerID string) ([]*Endpoint, error)
}

// LookupIPFunc resolves a hostname; injected so tests run without DNS.
type LookupIPFunc func(ctx context.Context, host string) ([]net.IP, error)

// Options tune URL validation.
type Options struct {
	// AllowPrivateHosts disables the private-address guard entirely.
	AllowPrivateHosts bool
	// PrivateHostAllow lists hostnames exempt from the guard.
	PrivateHostAllow []string
	// LookupIP overrides DNS resolution. Defaults to net.DefaultResolver.
	LookupIP LookupIPFunc
}

// Registry implements endpoint registration, mutation and lookup on top
// of a Store.
type Registry struct {
	store    Store
	opts     Options
	lookupIP LookupIPFunc
}

func New(store Store, opts Options) *Registry {
	lookup := opts.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		}
	}
	return &Registry{store: store, opts: opts, lookupIP: lookup}
}

// Register validates the URL, generates a secret, and persists a new
// active endpoint.
func (r *Registry) Register(ctx context.Context, ownerID, rawURL string, eventFilter []string) (*Endpoint, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if err := r.validateURL(ctx, rawURL); err != nil {
		return nil, err
	}

	secret, err := generateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	// pgx encodes a nil []string as SQL NULL; event_filter is NOT NULL.
	if eventFilter == nil {
		eventFilter = []string{}
	}

	now := time.Now().UTC()
	e := &Endpoint{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		URL:         rawURL,
		Secret:      secret,
		EventFilter: eventFilter,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns an endpoint by id.
func (r *Registry) Get(ctx context.Context, id string) (*Endpoint, error) {
	return r.store.Get(ctx, id)
}

// Update applies the non-nil fields of params to the endpoint.
func (r *Registry) Update(ctx context.Context, id string, params UpdateParams) (*Endpoint, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if params.URL != nil {
		if err := r.validateURL(ctx, *params.URL); err != nil {
			return nil, err
		}
		e.URL = *params.URL
	}
	if params.EventFilter != nil {
		e.EventFilter = *params.EventFilter
		if e.EventFilter == nil {
			e.EventFilter = []string{}
		}
	}
	if params.Active != nil {
		e.Active = *params.Active
	}
	e.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RotateSecret replaces the endpoint's signing secret and returns the new
// value. Deliveries created before rotation keep signing with the secret
// snapshotted on them.
func (r *Registry) RotateSecret(ctx context.Context, id string) (string, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	secret, err := generateSecret(32)
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	e.Secret = secret
	e.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(ctx, e); err != nil {
		return "", err
	}
	return secret, nil
}

// Deactivate stops new deliveries being created for the endpoint and makes
// the dispatcher abandon its pending retries.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	active := false
	_, err := r.Update(ctx, id, UpdateParams{Active: &active})
	return err
}

// Delete removes the endpoint; its delivery history goes with it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// List returns all endpoints belonging to an owner.
func (r *Registry) List(ctx context.Context, ownerID string) ([]*Endpoint, error) {
	return r.store.List(ctx, ownerID)
}

// FindActiveFor resolves the active endpoints subscribed to eventType.
func (r *Registry) FindActiveFor(ctx context.Context, eventType, ownerID string) ([]*Endpoint, error) {
	return r.store.FindActiveFor(ctx, eventType, ownerID)
}

// validateURL enforces the http/https scheme and rejects hosts that
// resolve to loopback, private, or link-local addresses unless the host
// is allow-listed.
func (r *Registry) validateURL(ctx context.Context, rawURL string) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if r.opts.AllowPrivateHosts || r.allowlisted(host) {
		return nil
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = r.lookupIP(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: host %q did not resolve: %v", ErrInvalidURL, host, err)
		}
	}
	for _, ip := range ips {
		if isPrivateAddress(ip) {
			return fmt.Errorf("%w: host %q resolves to private address %s", ErrInvalidURL, host, ip)
		}
	}
	return nil
}

func (r *Registry) allowlisted(host string) bool {
	for _, h := range r.opts.PrivateHostAllow {
		if h == host {
			return true
		}
	}
	return false
}

func isPrivateAddress(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// generateSecret generates a random base64-encoded string of n bytes of
// entropy, prefixed so secrets are recognizable in receiver configs.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + base64.RawURLEncoding.EncodeToString(b), nil
}
