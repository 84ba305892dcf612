package gateway

import (
	"context"
	"net"
	"testing"

	"github.com/friendsincode/veriscan/internal/config"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	var out []net.IPAddr
	for _, raw := range f[host] {
		out = append(out, net.IPAddr{IP: net.ParseIP(raw)})
	}
	return out, nil
}

func newTestValidator(policy config.Policy, resolver fakeResolver) *Validator {
	v := NewValidator(policy)
	v.resolver = resolver
	return v
}

func TestValidatorRejectsSchemes(t *testing.T) {
	v := newTestValidator(config.Policy{}, fakeResolver{})
	for _, raw := range []string{
		"ftp://example.com/a.mp4",
		"file:///etc/passwd",
		"gopher://example.com/",
	} {
		if err := v.ValidateURL(context.Background(), raw); err == nil {
			t.Errorf("expected refusal for %q", raw)
		}
	}
}

func TestValidatorSchemePolicyOnlyNarrows(t *testing.T) {
	resolver := fakeResolver{"cdn.example.com": {"93.184.216.34"}}

	// A policy listing a foreign scheme never widens the http/https
	// ceiling.
	v := newTestValidator(config.Policy{AllowedSchemes: []string{"ftp"}}, resolver)
	if err := v.ValidateURL(context.Background(), "ftp://cdn.example.com/a.mp4"); err == nil {
		t.Fatal("ftp must be refused even when the policy names it")
	}

	// An https-only policy refuses plain http but keeps https working.
	v = newTestValidator(config.Policy{AllowedSchemes: []string{"https"}}, resolver)
	if err := v.ValidateURL(context.Background(), "http://cdn.example.com/a.mp4"); err == nil {
		t.Fatal("http should be refused under an https-only policy")
	}
	if err := v.ValidateURL(context.Background(), "https://cdn.example.com/a.mp4"); err != nil {
		t.Fatalf("https should pass under an https-only policy: %v", err)
	}
}

func TestValidatorRejectsLiteralPrivateIPs(t *testing.T) {
	v := newTestValidator(config.Policy{}, fakeResolver{})
	for _, raw := range []string{
		"http://127.0.0.1/a.mp4",
		"http://10.0.0.5/a.mp4",
		"http://172.16.1.1/a.mp4",
		"http://192.168.1.1/a.mp4",
		"http://169.254.169.254/latest/meta-data",
		"http://0.0.0.0/a.mp4",
		"http://224.0.0.1/a.mp4",
		"http://100.64.0.1/a.mp4",
		"http://240.0.0.1/a.mp4",
		"http://[::1]/a.mp4",
	} {
		if err := v.ValidateURL(context.Background(), raw); err == nil {
			t.Errorf("expected refusal for %q", raw)
		}
	}
}

func TestValidatorRejectsNamesResolvingPrivate(t *testing.T) {
	resolver := fakeResolver{
		"sneaky.example.com": {"93.184.216.34", "10.0.0.5"},
	}
	v := newTestValidator(config.Policy{}, resolver)
	err := v.ValidateURL(context.Background(), "https://sneaky.example.com/a.mp4")
	if err == nil {
		t.Fatal("a host with any private address must be refused")
	}
	if _, ok := err.(*RefusalError); !ok {
		t.Fatalf("expected RefusalError, got %T", err)
	}
}

func TestValidatorAcceptsPublicHost(t *testing.T) {
	resolver := fakeResolver{"cdn.example.com": {"93.184.216.34"}}
	v := newTestValidator(config.Policy{}, resolver)
	if err := v.ValidateURL(context.Background(), "https://cdn.example.com/a.mp4"); err != nil {
		t.Fatalf("unexpected refusal: %v", err)
	}
}

func TestValidatorRejectsInternalSuffixes(t *testing.T) {
	v := newTestValidator(config.Policy{}, fakeResolver{})
	for _, raw := range []string{
		"https://nas.local/a.mp4",
		"https://ci.internal/a.mp4",
		"https://fileserver.corp/a.mp4",
	} {
		if err := v.ValidateURL(context.Background(), raw); err == nil {
			t.Errorf("expected refusal for %q", raw)
		}
	}
}

func TestValidatorHonorsPolicyBlocklists(t *testing.T) {
	policy := config.Policy{
		BlockedSuffixes: []string{".lan"},
		BlockedHosts:    []string{"denied.example.com"},
	}
	resolver := fakeResolver{"denied.example.com": {"93.184.216.34"}}
	v := newTestValidator(policy, resolver)

	if err := v.ValidateURL(context.Background(), "https://router.lan/a.mp4"); err == nil {
		t.Fatal("policy suffix should be refused")
	}
	if err := v.ValidateURL(context.Background(), "https://denied.example.com/a.mp4"); err == nil {
		t.Fatal("policy host should be refused")
	}
}

func TestValidatorRefusesUnresolvableHost(t *testing.T) {
	v := newTestValidator(config.Policy{}, fakeResolver{})
	if err := v.ValidateURL(context.Background(), "https://nosuchhost.example.com/a.mp4"); err == nil {
		t.Fatal("a host that resolves to nothing must be refused")
	}
}
