package dns

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/leozw/wp-edge/internal/config"
)

// Origin holds the resolved origin addresses for the run. IPv6 is
// optional; when empty no AAAA records are desired.
type Origin struct {
	IPv4 string
	IPv6 string
}

var (
	ipv4Providers = []string{
		"https://api.ipify.org",
		"https://checkip.amazonaws.com",
		"https://ifconfig.me/ip",
	}
	ipv6Providers = []string{
		"https://api64.ipify.org",
		"https://ifconfig.me/ip",
	}
)

// ResolveOrigin resolves the configured origin addresses, auto-detecting
// the public address when configured as "auto". Detection happens once
// per run; the result is cached by the caller.
func ResolveOrigin(ctx context.Context, cfg config.DNSConfig) (Origin, error) {
	var origin Origin

	switch strings.ToLower(strings.TrimSpace(cfg.OriginIPv4)) {
	case "", "auto":
		ip, err := detectPublicIP(ctx, 4)
		if err != nil {
			return Origin{}, fmt.Errorf("auto-detecting public IPv4 (set cloudflare.dns.origin_ipv4 explicitly): %w", err)
		}
		origin.IPv4 = ip
	default:
		if net.ParseIP(cfg.OriginIPv4) == nil {
			return Origin{}, fmt.Errorf("cloudflare.dns.origin_ipv4: %q is not an IP address", cfg.OriginIPv4)
		}
		origin.IPv4 = cfg.OriginIPv4
	}

	switch strings.ToLower(strings.TrimSpace(cfg.OriginIPv6)) {
	case "":
		// optional
	case "auto":
		ip, err := detectPublicIP(ctx, 6)
		if err != nil {
			return Origin{}, fmt.Errorf("auto-detecting public IPv6 (set cloudflare.dns.origin_ipv6 explicitly): %w", err)
		}
		origin.IPv6 = ip
	default:
		if net.ParseIP(cfg.OriginIPv6) == nil {
			return Origin{}, fmt.Errorf("cloudflare.dns.origin_ipv6: %q is not an IP address", cfg.OriginIPv6)
		}
		origin.IPv6 = cfg.OriginIPv6
	}

	return origin, nil
}

func detectPublicIP(ctx context.Context, version int) (string, error) {
	providers := ipv4Providers
	if version == 6 {
		providers = ipv6Providers
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var lastErr error

	for _, url := range providers {
		text, err := fetchText(ctx, client, url)
		if err != nil {
			lastErr = err
			continue
		}
		ip := net.ParseIP(text)
		if ip == nil {
			lastErr = fmt.Errorf("%s returned %q", url, text)
			continue
		}
		if (version == 4) != (ip.To4() != nil) {
			lastErr = fmt.Errorf("%s returned %s, want an IPv%d address", url, ip, version)
			continue
		}
		if !ip.IsGlobalUnicast() || ip.IsPrivate() {
			lastErr = fmt.Errorf("%s returned non-global address %s", url, ip)
			continue
		}
		return ip.String(), nil
	}

	if lastErr == nil {
		return "", fmt.Errorf("no IPv%d detection provider configured", version)
	}
	return "", fmt.Errorf("no provider returned a usable address: %w", lastErr)
}

func fetchText(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "wp-edge/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
