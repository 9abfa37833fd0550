package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector gathers the bot's operational counters. A nil *Collector is
// valid and records nothing, so components can be wired without metrics.
type Collector struct {
	fetchSuccess prometheus.Counter
	fetchFail    prometheus.Counter
	cacheHits    *prometheus.CounterVec
	staleServes  prometheus.Counter
	fetchLatency prometheus.Histogram

	alertsSent    prometheus.Counter
	expiryNotices prometheus.Counter
	sweeps        prometheus.Counter
	rateLimited   prometheus.Counter
	commands      *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_fetch_success_total",
			Help: "Successful upstream catalog fetches.",
		}),
		fetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_fetch_fail_total",
			Help: "Failed upstream catalog fetches.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealbot_snapshot_cache_total",
			Help: "Snapshot cache lookups by outcome.",
		}, []string{"outcome"}),
		staleServes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_snapshot_stale_served_total",
			Help: "Snapshots served stale after a failed refresh.",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealbot_fetch_latency_seconds",
			Help:    "Upstream catalog fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_alerts_sent_total",
			Help: "Deal alert notifications queued for delivery.",
		}),
		expiryNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_expiry_notices_total",
			Help: "Inactivity expiry notices queued for delivery.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_sweeps_total",
			Help: "Alert matcher sweeps executed.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_rate_limited_total",
			Help: "Commands rejected by the per-user rate limiter.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealbot_commands_total",
			Help: "Commands handled, by name and result.",
		}, []string{"command", "ok"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.cacheHits,
		c.staleServes,
		c.fetchLatency,
		c.alertsSent,
		c.expiryNotices,
		c.sweeps,
		c.rateLimited,
		c.commands,
	)
	return c
}

func (c *Collector) FetchSuccess(took time.Duration) {
	if c == nil {
		return
	}
	c.fetchSuccess.Inc()
	c.fetchLatency.Observe(took.Seconds())
}

func (c *Collector) FetchFail() {
	if c == nil {
		return
	}
	c.fetchFail.Inc()
}

func (c *Collector) CacheLookup(outcome string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(outcome).Inc()
}

func (c *Collector) StaleServed() {
	if c == nil {
		return
	}
	c.staleServes.Inc()
}

func (c *Collector) AlertSent() {
	if c == nil {
		return
	}
	c.alertsSent.Inc()
}

func (c *Collector) ExpiryNotice() {
	if c == nil {
		return
	}
	c.expiryNotices.Inc()
}

func (c *Collector) SweepDone() {
	if c == nil {
		return
	}
	c.sweeps.Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

func (c *Collector) Command(name string, ok bool) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
}
