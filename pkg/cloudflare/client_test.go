package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leozw/wp-edge/internal/core"
)

func writeEnvelope(w http.ResponseWriter, result any, page, totalPages int) {
	raw, _ := json.Marshal(result)
	resp := map[string]any{
		"success": true,
		"errors":  []any{},
		"result":  json.RawMessage(raw),
	}
	if totalPages > 0 {
		resp["result_info"] = map[string]int{"page": page, "total_pages": totalPages}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestListZonesFollowsPagination(t *testing.T) {
	pages := map[string][]Zone{
		"1": {{ID: "z1", Name: "alpha.dev"}, {ID: "z2", Name: "beta.dev"}},
		"2": {{ID: "z3", Name: "gamma.dev"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/zones" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q", got)
		}
		page := r.URL.Query().Get("page")
		n := 1
		fmt.Sscanf(page, "%d", &n)
		writeEnvelope(w, pages[page], n, 2)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("tok123", srv.URL)
	zones, err := c.ListZones(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(zones) != 3 {
		t.Fatalf("zones = %v, want 3 across 2 pages", zones)
	}
	if zones[2].Name != "gamma.dev" {
		t.Errorf("last zone = %v", zones[2])
	}
}

func TestFindRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/zones/z1/dns_records" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "A" || q.Get("name") != "alpha.dev" {
			writeEnvelope(w, []Record{}, 1, 0)
			return
		}
		writeEnvelope(w, []Record{
			{ID: "rec1", Type: "A", Name: "alpha.dev", Content: "203.0.113.7", TTL: 1, Proxied: true},
		}, 1, 0)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("tok123", srv.URL)

	rec, err := c.FindRecord(context.Background(), "z1", core.RecordA, "alpha.dev")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.ID != "rec1" || rec.Content != "203.0.113.7" {
		t.Errorf("record = %+v", rec)
	}

	missing, err := c.FindRecord(context.Background(), "z1", core.RecordAAAA, "alpha.dev")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("absent record = %+v, want nil", missing)
	}
}

func TestCreateRecordSendsPayload(t *testing.T) {
	var got recordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/zones/z1/dns_records" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		writeEnvelope(w, Record{ID: "rec-new"}, 1, 0)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("tok123", srv.URL)
	err := c.CreateRecord(context.Background(), "z1", core.Record{
		Name: "*.alpha.dev", Type: core.RecordA, Content: "203.0.113.7", TTL: 1, Proxied: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "A" || got.Name != "*.alpha.dev" || got.Content != "203.0.113.7" || !got.Proxied {
		t.Errorf("payload = %+v", got)
	}
}

func TestRequestSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors": []map[string]any{
				{"code": 9109, "message": "Invalid access token"},
			},
		})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("bad-token", srv.URL)
	_, err := c.ListZones(context.Background())
	if err == nil {
		t.Fatal("expected the API error to surface")
	}
	want := "9109: Invalid access token"
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error = %q, want it to carry %q", got, want)
	}
}

func TestPickZone(t *testing.T) {
	zones := []Zone{
		{ID: "z1", Name: "alpha.dev"},
		{ID: "z2", Name: "shop.alpha.dev"},
		{ID: "z3", Name: "beta.dev"},
	}

	cases := map[string]struct {
		fqdn   string
		wantID string
		found  bool
	}{
		"exact zone match":             {"alpha.dev", "z1", true},
		"subdomain picks parent":       {"blog.alpha.dev", "z1", true},
		"longest suffix wins":          {"cart.shop.alpha.dev", "z2", true},
		"delegated zone exact":         {"shop.alpha.dev", "z2", true},
		"wildcard strips marker":       {"*.beta.dev", "z3", true},
		"no zone owns the name":        {"gamma.dev", "", false},
		"suffix without dot boundary":  {"notalpha.dev", "", false},
		"wildcard with no owning zone": {"*.gamma.dev", "", false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			zone, found := PickZone(tc.fqdn, zones)
			if found != tc.found {
				t.Fatalf("found = %v, want %v", found, tc.found)
			}
			if found && zone.ID != tc.wantID {
				t.Errorf("zone = %s, want %s", zone.ID, tc.wantID)
			}
		})
	}
}
