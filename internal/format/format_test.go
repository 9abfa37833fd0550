package format

import (
	"strings"
	"testing"
	"time"

	"dealbot/internal/alerts"
	"dealbot/internal/deals"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
)

func TestSnapshotMarkers(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := deals.Snapshot{Items: []steam.Item{
		{ID: 1, Name: "Dredge", DiscountPercent: 80, OriginalPrice: 2499, FinalPrice: 499, ReleaseDate: now.AddDate(0, 0, -10)},
		{ID: 2, Name: "Celeste <3", DiscountPercent: 25, OriginalPrice: 1999, FinalPrice: 1499, ReleaseDate: now.AddDate(-2, 0, 0)},
	}}

	out := Snapshot(snap, now)
	lines := strings.Split(out, "\n")
	var dredge, celeste string
	for _, l := range lines {
		if strings.Contains(l, "Dredge") {
			dredge = l
		}
		if strings.Contains(l, "Celeste") {
			celeste = l
		}
	}
	if !strings.HasPrefix(dredge, "🔥") || !strings.Contains(dredge, "🆕") {
		t.Fatalf("hot new release missing markers: %q", dredge)
	}
	if strings.Contains(celeste, "🔥") || strings.Contains(celeste, "🆕") {
		t.Fatalf("mild old discount must have no markers: %q", celeste)
	}
	if !strings.Contains(celeste, "&lt;3") {
		t.Fatalf("names must be HTML-escaped: %q", celeste)
	}
	if !strings.Contains(dredge, "<s>24.99</s> 4.99") {
		t.Fatalf("prices malformed: %q", dredge)
	}
}

func TestSnapshotStaleAndOverflow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	items := make([]steam.Item, MaxListedItems+5)
	for i := range items {
		items[i] = steam.Item{ID: int64(i + 1), Name: "Game", DiscountPercent: 30, FinalPrice: 100}
	}
	out := Snapshot(deals.Snapshot{Items: items, Stale: true}, now)
	if !strings.Contains(out, "cached, store unreachable") {
		t.Fatalf("stale banner missing: %q", out)
	}
	if !strings.Contains(out, "5 more") {
		t.Fatalf("overflow note missing: %q", out)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	t.Parallel()
	out := Snapshot(deals.Snapshot{}, time.Now())
	if !strings.Contains(out, "No discounts") {
		t.Fatalf("empty snapshot message wrong: %q", out)
	}
}

func TestDealAlertAndExpiry(t *testing.T) {
	t.Parallel()
	m := alerts.Match{
		Sub:  storage.Subscription{ItemNameKey: "hades"},
		Item: steam.Item{ID: 1145360, Name: "Hades", DiscountPercent: 60, FinalPrice: 999},
	}
	out := DealAlert(m)
	for _, want := range []string{"Hades", "-60%", "9.99", "store.steampowered.com/app/1145360", `"hades"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("alert missing %q: %q", want, out)
		}
	}

	exp := ExpiryNotice(storage.Subscription{ItemNameKey: "hades"})
	if !strings.Contains(exp, "15 days") {
		t.Fatalf("expiry notice missing threshold: %q", exp)
	}
}
