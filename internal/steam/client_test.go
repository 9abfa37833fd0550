package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealbot/pkg/logx"
)

func TestFetchCatalog(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/featuredcategories" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("cc"); got != "de" {
			t.Errorf("cc = %q, want de", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"specials": {"items": [
				{"id": 1145360, "name": "Hades", "discount_percent": 60,
				 "original_price": 2499, "final_price": 999,
				 "release_date": {"date": "17 Sep, 2020"}},
				{"id": 1262350, "name": "SILENT HILL 2", "discount_percent": 0,
				 "original_price": 0, "final_price": 0,
				 "release_date": {"date": "soon"}}
			]}
		}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RatePerMin: 6000}, logx.Nop())
	items, err := c.FetchCatalog(context.Background(), "DE")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	hades := items[0]
	if hades.ID != 1145360 || hades.DiscountPercent != 60 || hades.FinalPrice != 999 {
		t.Fatalf("unexpected item %+v", hades)
	}
	if want := time.Date(2020, 9, 17, 0, 0, 0, 0, time.UTC); !hades.ReleaseDate.Equal(want) {
		t.Fatalf("release date = %v, want %v", hades.ReleaseDate, want)
	}
	if !items[1].ReleaseDate.IsZero() {
		t.Fatalf("unparseable release date must be zero, got %v", items[1].ReleaseDate)
	}
}

func TestFetchCatalogStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "be right back", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RatePerMin: 6000}, logx.Nop())
	if _, err := c.FetchCatalog(context.Background(), "us"); err == nil {
		t.Fatal("non-200 status must error")
	}
}

func TestPriceString(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		minor int64
		want  string
	}{
		{999, "9.99"},
		{2400, "24.00"},
		{5, "0.05"},
	} {
		if got := PriceString(tc.minor); got != tc.want {
			t.Errorf("PriceString(%d) = %q, want %q", tc.minor, got, tc.want)
		}
	}
}
