package registry

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

// publicResolver maps every hostname to a public address.
func publicResolver(_ context.Context, _ string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}

func newTestRegistry(opts Options) *Registry {
	if opts.LookupIP == nil {
		opts.LookupIP = publicResolver
	}
	return New(NewMemoryStore(), opts)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	ep, err := r.Register(ctx, "owner_1", "https://example.com/hook", []string{"order.created"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if ep.ID == "" {
		t.Errorf("Register() endpoint has empty id")
	}
	if !ep.Active {
		t.Errorf("Register() endpoint not active")
	}
	if !strings.HasPrefix(ep.Secret, "whsec_") {
		t.Errorf("Register() secret = %q, want whsec_ prefix", ep.Secret)
	}
	if len(ep.Secret) < 40 {
		t.Errorf("Register() secret too short: %d chars", len(ep.Secret))
	}

	got, err := r.Get(ctx, ep.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Get() URL = %q", got.URL)
	}
}

func TestRegisterNilFilterBecomesEmptySlice(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	// A nil []string round-trips to SQL NULL under pgx, which the NOT NULL
	// event_filter column rejects; subscribe-all must persist as an empty
	// array.
	ep, err := r.Register(ctx, "owner_1", "https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if ep.EventFilter == nil {
		t.Fatalf("Register() stored nil EventFilter, want empty slice")
	}
	if len(ep.EventFilter) != 0 {
		t.Errorf("Register() EventFilter = %v, want empty", ep.EventFilter)
	}

	cleared := []string(nil)
	updated, err := r.Update(ctx, ep.ID, UpdateParams{EventFilter: &cleared})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.EventFilter == nil {
		t.Errorf("Update() stored nil EventFilter, want empty slice")
	}
}

func TestRegisterSecretsAreUnique(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	a, err := r.Register(ctx, "owner_1", "https://example.com/a", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	b, err := r.Register(ctx, "owner_1", "https://example.com/b", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if a.Secret == b.Secret {
		t.Errorf("two endpoints share a secret")
	}
}

func TestRegisterRejectsInvalidURLs(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"bad scheme ftp", "ftp://example.com/hook"},
		{"bad scheme file", "file:///etc/passwd"},
		{"not a url", "not a url"},
		{"missing host", "https:///hook"},
		{"loopback literal", "http://127.0.0.1:8080/hook"},
		{"private literal", "http://10.0.0.5/hook"},
		{"link local literal", "http://169.254.169.254/latest/meta-data"},
		{"ipv6 loopback", "http://[::1]/hook"},
		{"unspecified", "http://0.0.0.0/hook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(Options{})
			_, err := r.Register(context.Background(), "owner_1", tt.url, nil)
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("Register(%q) error = %v, want ErrInvalidURL", tt.url, err)
			}
		})
	}
}

func TestRegisterRejectsHostResolvingPrivate(t *testing.T) {
	r := newTestRegistry(Options{
		LookupIP: func(_ context.Context, _ string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("192.168.1.10")}, nil
		},
	})
	_, err := r.Register(context.Background(), "owner_1", "https://internal.evil.example/hook", nil)
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("Register() error = %v, want ErrInvalidURL", err)
	}
}

func TestRegisterAllowlistBypassesGuard(t *testing.T) {
	r := newTestRegistry(Options{
		PrivateHostAllow: []string{"hooks.internal"},
		LookupIP: func(_ context.Context, _ string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("10.1.2.3")}, nil
		},
	})
	if _, err := r.Register(context.Background(), "owner_1", "https://hooks.internal/hook", nil); err != nil {
		t.Errorf("Register() with allowlisted host error: %v", err)
	}
}

func TestRegisterAllowPrivateHostsOverride(t *testing.T) {
	r := newTestRegistry(Options{AllowPrivateHosts: true})
	if _, err := r.Register(context.Background(), "owner_1", "http://127.0.0.1:9999/hook", nil); err != nil {
		t.Errorf("Register() with AllowPrivateHosts error: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	ep, err := r.Register(ctx, "owner_1", "https://example.com/hook", []string{"order.created"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	newURL := "https://example.com/hook/v2"
	newFilter := []string{"order.created", "order.cancelled"}
	updated, err := r.Update(ctx, ep.ID, UpdateParams{URL: &newURL, EventFilter: &newFilter})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.URL != newURL {
		t.Errorf("Update() URL = %q, want %q", updated.URL, newURL)
	}
	if len(updated.EventFilter) != 2 {
		t.Errorf("Update() EventFilter = %v", updated.EventFilter)
	}
	if updated.Secret != ep.Secret {
		t.Errorf("Update() changed the secret")
	}

	badURL := "ftp://example.com"
	if _, err := r.Update(ctx, ep.ID, UpdateParams{URL: &badURL}); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("Update() with bad URL error = %v, want ErrInvalidURL", err)
	}

	if _, err := r.Update(ctx, "ep_missing", UpdateParams{URL: &newURL}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRotateSecret(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	ep, err := r.Register(ctx, "owner_1", "https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	rotated, err := r.RotateSecret(ctx, ep.ID)
	if err != nil {
		t.Fatalf("RotateSecret() error: %v", err)
	}
	if rotated == ep.Secret {
		t.Errorf("RotateSecret() returned the old secret")
	}

	got, err := r.Get(ctx, ep.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Secret != rotated {
		t.Errorf("Get() secret = %q, want rotated value", got.Secret)
	}

	if _, err := r.RotateSecret(ctx, "ep_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RotateSecret(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	ep, err := r.Register(ctx, "owner_1", "https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Deactivate(ctx, ep.ID); err != nil {
		t.Fatalf("Deactivate() error: %v", err)
	}
	got, _ := r.Get(ctx, ep.ID)
	if got.Active {
		t.Errorf("endpoint still active after Deactivate()")
	}
}

func TestFindActiveFor(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	orders, err := r.Register(ctx, "owner_1", "https://example.com/orders", []string{"order.created"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	everything, err := r.Register(ctx, "owner_1", "https://example.com/all", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	inactive, err := r.Register(ctx, "owner_1", "https://example.com/off", []string{"order.created"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Deactivate(ctx, inactive.ID); err != nil {
		t.Fatalf("Deactivate() error: %v", err)
	}
	otherOwner, err := r.Register(ctx, "owner_2", "https://example.com/other", []string{"order.created"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tests := []struct {
		name      string
		eventType string
		ownerID   string
		wantIDs   map[string]bool
	}{
		{
			name:      "matching filter plus empty filter",
			eventType: "order.created",
			ownerID:   "owner_1",
			wantIDs:   map[string]bool{orders.ID: true, everything.ID: true},
		},
		{
			name:      "no filter match only empty filter",
			eventType: "order.cancelled",
			ownerID:   "owner_1",
			wantIDs:   map[string]bool{everything.ID: true},
		},
		{
			name:      "all owners",
			eventType: "order.created",
			ownerID:   "",
			wantIDs:   map[string]bool{orders.ID: true, everything.ID: true, otherOwner.ID: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FindActiveFor(ctx, tt.eventType, tt.ownerID)
			if err != nil {
				t.Fatalf("FindActiveFor() error: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Errorf("FindActiveFor() returned %d endpoints, want %d", len(got), len(tt.wantIDs))
			}
			for _, e := range got {
				if !tt.wantIDs[e.ID] {
					t.Errorf("FindActiveFor() returned unexpected endpoint %s (%s)", e.ID, e.URL)
				}
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(Options{})

	ep, err := r.Register(ctx, "owner_1", "https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Delete(ctx, ep.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := r.Get(ctx, ep.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := r.Delete(ctx, ep.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestEndpointMatches(t *testing.T) {
	tests := []struct {
		name      string
		filter    []string
		eventType string
		want      bool
	}{
		{"empty filter matches all", nil, "anything.at.all", true},
		{"exact match", []string{"order.created"}, "order.created", true},
		{"no match", []string{"order.created"}, "order.cancelled", false},
		{"multiple entries", []string{"a.b", "c.d"}, "c.d", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Endpoint{EventFilter: tt.filter}
			if got := e.Matches(tt.eventType); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}
