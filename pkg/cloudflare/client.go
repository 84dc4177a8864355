package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/leozw/wp-edge/internal/core"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is a provider-side DNS record, including its Cloudflare ID.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// Cloudflare enforces per-token API quotas; a modest client-side
	// limit keeps a large reconciliation pass under them.
	limiter *rate.Limiter
}

func NewClient(token string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(4), 4),
	}
}

// NewClientWithBaseURL exists for tests against a local fake API.
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
	} `json:"result_info"`
}

func (c *Client) request(ctx context.Context, method, path string, payload any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudflare %s %s: reading response: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cloudflare %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if !env.Success {
		msgs := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
		}
		return nil, fmt.Errorf("cloudflare %s %s failed: %s", method, path, strings.Join(msgs, "; "))
	}
	return &env, nil
}

// ListZones fetches every zone the token can see, following pagination.
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	page := 1
	for {
		q := url.Values{}
		q.Set("page", fmt.Sprint(page))
		q.Set("per_page", "50")

		env, err := c.request(ctx, http.MethodGet, "/zones?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var batch []Zone
		if err := json.Unmarshal(env.Result, &batch); err != nil {
			return nil, fmt.Errorf("parsing zones: %w", err)
		}
		zones = append(zones, batch...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			return zones, nil
		}
		page++
	}
}

// FindRecord returns the record for (type, name) in the zone, or nil
// when absent.
func (c *Client) FindRecord(ctx context.Context, zoneID string, rtype core.RecordType, name string) (*Record, error) {
	q := url.Values{}
	q.Set("type", string(rtype))
	q.Set("name", name)
	q.Set("per_page", "50")

	env, err := c.request(ctx, http.MethodGet, "/zones/"+zoneID+"/dns_records?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, fmt.Errorf("parsing records: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListRecords fetches every record in a zone, following pagination.
// The reconciler uses this to report unmanaged records; it never
// deletes them.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	var records []Record
	page := 1
	for {
		q := url.Values{}
		q.Set("page", fmt.Sprint(page))
		q.Set("per_page", "100")

		env, err := c.request(ctx, http.MethodGet, "/zones/"+zoneID+"/dns_records?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var batch []Record
		if err := json.Unmarshal(env.Result, &batch); err != nil {
			return nil, fmt.Errorf("parsing records: %w", err)
		}
		records = append(records, batch...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			return records, nil
		}
		page++
	}
}

type recordPayload struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

func (c *Client) CreateRecord(ctx context.Context, zoneID string, r core.Record) error {
	_, err := c.request(ctx, http.MethodPost, "/zones/"+zoneID+"/dns_records", recordPayload{
		Type:    string(r.Type),
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Proxied: r.Proxied,
	})
	return err
}

func (c *Client) UpdateRecord(ctx context.Context, zoneID, recordID string, r core.Record) error {
	_, err := c.request(ctx, http.MethodPut, "/zones/"+zoneID+"/dns_records/"+recordID, recordPayload{
		Type:    string(r.Type),
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Proxied: r.Proxied,
	})
	return err
}

// PickZone chooses the zone owning a FQDN by longest suffix match.
// Wildcard markers are stripped before matching.
func PickZone(fqdn string, zones []Zone) (Zone, bool) {
	fqdn = strings.TrimPrefix(fqdn, "*.")

	var best Zone
	found := false
	for _, z := range zones {
		if fqdn != z.Name && !strings.HasSuffix(fqdn, "."+z.Name) {
			continue
		}
		if !found || len(z.Name) > len(best.Name) {
			best = z
			found = true
		}
	}
	return best, found
}
