// Package format renders snapshots, alerts and notices as Telegram HTML.
package format

import (
	"fmt"
	"html"
	"strings"
	"time"

	"dealbot/internal/alerts"
	"dealbot/internal/deals"
	"dealbot/internal/steam"
	"dealbot/internal/storage"
)

const (
	// MaxListedItems caps channel posts and /deals replies.
	MaxListedItems = 15
	// hotDiscount gets the fire marker.
	hotDiscount = 50
	// newReleaseWindow marks recently released items.
	newReleaseWindow = 30 * 24 * time.Hour
)

func itemLine(it steam.Item, now time.Time) string {
	var b strings.Builder
	if it.DiscountPercent >= hotDiscount {
		b.WriteString("🔥 ")
	}
	fmt.Fprintf(&b, "<a href=%q>%s</a> — <b>-%d%%</b>", it.StoreURL(), html.EscapeString(it.Name), it.DiscountPercent)
	if it.FinalPrice > 0 {
		fmt.Fprintf(&b, " <s>%s</s> %s", steam.PriceString(it.OriginalPrice), steam.PriceString(it.FinalPrice))
	} else {
		b.WriteString(" free")
	}
	if !it.ReleaseDate.IsZero() && now.Sub(it.ReleaseDate) <= newReleaseWindow {
		b.WriteString(" 🆕")
	}
	return b.String()
}

// Snapshot renders a channel post or /deals reply for one snapshot.
func Snapshot(snap deals.Snapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString("<b>Current deals</b>")
	if snap.Stale {
		b.WriteString(" (cached, store unreachable)")
	}
	b.WriteString("\n\n")

	if len(snap.Items) == 0 {
		b.WriteString("No discounts worth posting right now.")
		return b.String()
	}
	shown := snap.Items
	if len(shown) > MaxListedItems {
		shown = shown[:MaxListedItems]
	}
	for _, it := range shown {
		b.WriteString(itemLine(it, now))
		b.WriteByte('\n')
	}
	if rest := len(snap.Items) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n…and %d more on the store.", rest)
	}
	return b.String()
}

// DealAlert renders the DM sent when a subscribed item goes on sale.
func DealAlert(m alerts.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 <b>%s</b> is on sale: <b>-%d%%</b>", html.EscapeString(m.Item.Name), m.Item.DiscountPercent)
	if m.Item.FinalPrice > 0 {
		fmt.Fprintf(&b, ", now %s", steam.PriceString(m.Item.FinalPrice))
	}
	fmt.Fprintf(&b, "\n%s\n\nThis alert fired for your subscription %q and has been removed.", m.Item.StoreURL(), m.Sub.ItemNameKey)
	return b.String()
}

// ExpiryNotice renders the DM sent when an inactive subscription is dropped.
func ExpiryNotice(sub storage.Subscription) string {
	return fmt.Sprintf(
		"Your alert for %q was removed after %d days of inactivity. Subscribe again any time with /subscribe.",
		sub.ItemNameKey, int(alerts.InactivityThreshold.Hours()/24),
	)
}

// SubscriptionList renders /alerts output.
func SubscriptionList(subs []storage.Subscription) string {
	if len(subs) == 0 {
		return "You have no deal alerts. Add one with /subscribe <game name>."
	}
	var b strings.Builder
	b.WriteString("<b>Your deal alerts</b>\n")
	for _, sub := range subs {
		fmt.Fprintf(&b, "• %s\n", html.EscapeString(sub.ItemNameKey))
	}
	return b.String()
}
