package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dealbot/pkg/logx"
)

const (
	defaultBaseURL     = "https://store.steampowered.com"
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 4 << 20 // featured categories payloads are well under 4 MiB
)

type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxBodySize int64
	// RatePerMin caps outgoing storefront calls across all currencies.
	RatePerMin int
}

// Client fetches the storefront's featured specials for a currency region.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	maxBody int64
	log     logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	rpm := cfg.RatePerMin
	if rpm <= 0 {
		rpm = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    base,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		maxBody: maxBody,
		log:     log,
	}
}

// featuredResponse mirrors the subset of the featuredcategories payload we
// consume. Prices are integer cents; release_date is a free-form string.
type featuredResponse struct {
	Specials struct {
		Items []featuredItem `json:"items"`
	} `json:"specials"`
}

type featuredItem struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	DiscountPercent int    `json:"discount_percent"`
	OriginalPrice   int64  `json:"original_price"`
	FinalPrice      int64  `json:"final_price"`
	ReleaseDate     struct {
		Date string `json:"date"`
	} `json:"release_date"`
}

func (c *Client) FetchCatalog(ctx context.Context, region string) ([]Item, error) {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		region = "us"
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.base + "/api/featuredcategories?cc=" + url.QueryEscape(region)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "dealbot/1.0")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storefront request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused, then classify.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("storefront status %d for region %s", resp.StatusCode, region)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("storefront read: %w", err)
	}

	var fr featuredResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, fmt.Errorf("storefront decode: %w", err)
	}

	items := make([]Item, 0, len(fr.Specials.Items))
	for _, fi := range fr.Specials.Items {
		items = append(items, Item{
			ID:              fi.ID,
			Name:            fi.Name,
			DiscountPercent: fi.DiscountPercent,
			OriginalPrice:   fi.OriginalPrice,
			FinalPrice:      fi.FinalPrice,
			ReleaseDate:     parseReleaseDate(fi.ReleaseDate.Date),
		})
	}

	c.log.Debug("catalog fetched",
		logx.String("region", region),
		logx.Int("items", len(items)),
		logx.Duration("took", time.Since(start)),
	)
	return items, nil
}

// parseReleaseDate handles the storefront's loose date strings
// ("2 Sep, 2025", "Sep 2, 2025"). Unparseable dates come back zero.
func parseReleaseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2 Jan, 2006", "Jan 2, 2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
