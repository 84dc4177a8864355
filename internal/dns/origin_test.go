package dns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leozw/wp-edge/internal/config"
)

func withProviders(t *testing.T, urls []string) {
	t.Helper()
	saved := ipv4Providers
	ipv4Providers = urls
	t.Cleanup(func() { ipv4Providers = saved })
}

func textServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveOriginExplicitAddresses(t *testing.T) {
	origin, err := ResolveOrigin(context.Background(), config.DNSConfig{
		OriginIPv4: "203.0.113.7",
		OriginIPv6: "2001:db8::1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if origin.IPv4 != "203.0.113.7" || origin.IPv6 != "2001:db8::1" {
		t.Errorf("origin = %+v", origin)
	}

	_, err = ResolveOrigin(context.Background(), config.DNSConfig{OriginIPv4: "not-an-ip"})
	if err == nil || !strings.Contains(err.Error(), "origin_ipv4") {
		t.Errorf("error = %v, want it to name origin_ipv4", err)
	}
}

func TestDetectPublicIP(t *testing.T) {
	t.Run("first usable provider wins", func(t *testing.T) {
		bad := textServer(t, "banner page")
		good := textServer(t, "203.0.113.7")
		withProviders(t, []string{bad.URL, good.URL})

		ip, err := detectPublicIP(context.Background(), 4)
		if err != nil {
			t.Fatal(err)
		}
		if ip != "203.0.113.7" {
			t.Errorf("ip = %q", ip)
		}
	})

	t.Run("private address is rejected with a real cause", func(t *testing.T) {
		private := textServer(t, "192.168.1.5")
		withProviders(t, []string{private.URL})

		_, err := detectPublicIP(context.Background(), 4)
		if err == nil {
			t.Fatal("expected detection to fail")
		}
		if !strings.Contains(err.Error(), "non-global address 192.168.1.5") {
			t.Errorf("error = %v, want it to name the rejected address", err)
		}
		if strings.Contains(err.Error(), "%!w") {
			t.Errorf("error %v wraps a nil cause", err)
		}
	})

	t.Run("wrong address family is rejected", func(t *testing.T) {
		v6only := textServer(t, "2001:db8::1")
		withProviders(t, []string{v6only.URL})

		_, err := detectPublicIP(context.Background(), 4)
		if err == nil {
			t.Fatal("expected detection to fail")
		}
		if !strings.Contains(err.Error(), "want an IPv4 address") {
			t.Errorf("error = %v, want the family mismatch named", err)
		}
	})
}
