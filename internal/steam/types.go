package steam

import (
	"context"
	"fmt"
	"time"
)

// Item is one discounted catalog entry as the storefront reports it.
// Prices are in minor units (cents) of the region's currency.
type Item struct {
	ID              int64
	Name            string
	DiscountPercent int
	OriginalPrice   int64
	FinalPrice      int64
	ReleaseDate     time.Time // zero when the storefront omits it
}

// StoreURL returns the public store page for the item.
func (it Item) StoreURL() string {
	return fmt.Sprintf("https://store.steampowered.com/app/%d", it.ID)
}

// PriceString formats a minor-unit price like "19.99".
func PriceString(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// Fetcher is the upstream catalog collaborator. region is the storefront
// country code that selects the display currency ("us", "de", ...).
type Fetcher interface {
	FetchCatalog(ctx context.Context, region string) ([]Item, error)
}
