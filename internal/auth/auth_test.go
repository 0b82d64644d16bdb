package auth

import (
	"testing"

	"github.com/mohamed-ali0/truckportal-bridge/internal/captcha"
	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
)

func TestContainsAny(t *testing.T) {
	cases := []struct {
		haystack string
		needles  []string
		want     bool
	}{
		{"https://portal.example.com/dashboard", []string{"error"}, false},
		{"https://portal.example.com/login?Error=1", []string{"error"}, true},
		{"https://portal.example.com/home", []string{}, false},
		{"", []string{"error"}, false},
	}
	for _, c := range cases {
		if got := containsAny(c.haystack, c.needles...); got != c.want {
			t.Errorf("containsAny(%q, %v) = %v, want %v", c.haystack, c.needles, got, c.want)
		}
	}
}

func TestNewWithoutProxy(t *testing.T) {
	cfg := &config.Config{}
	chain := captcha.NewSolverChain(captcha.SolverChainConfig{})
	a, err := New(cfg, chain, selectors.Get)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.ext != nil {
		t.Fatalf("expected no proxy extension when HasProxy() is false")
	}
	a.Close() // must be a no-op, never panic, when ext is nil
}

func TestNewWithProxy(t *testing.T) {
	cfg := &config.Config{
		ProxyHost:     "proxy.internal",
		ProxyPort:     8888,
		ProxyUsername: "user",
		ProxyPassword: "pass",
		ArtifactRoot:  t.TempDir(),
	}
	chain := captcha.NewSolverChain(captcha.SolverChainConfig{})
	a, err := New(cfg, chain, selectors.Get)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.ext == nil {
		t.Fatalf("expected a proxy extension when HasProxy() is true")
	}
	if a.ext.Dir() == "" {
		t.Fatalf("expected non-empty extension directory")
	}
}
