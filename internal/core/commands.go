package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dealbot/internal/alerts"
	"dealbot/internal/config"
	"dealbot/internal/deals"
	"dealbot/internal/format"
	"dealbot/internal/setup"
	"dealbot/internal/storage"
	"dealbot/internal/transport"
	"dealbot/pkg/logx"
)

// currencyChoices are the storefront regions offered during setup.
var currencyChoices = []struct{ Label, Region string }{
	{"$ USD", "us"},
	{"€ EUR", "de"},
	{"£ GBP", "gb"},
	{"R$ BRL", "br"},
	{"₴ UAH", "ua"},
	{"¥ JPY", "jp"},
}

const setupCallbackPrefix = "setup:"

// Handlers implements every bot command on top of the domain services.
type Handlers struct {
	cfg       func() *config.Config
	store     storage.Store
	cache     *deals.Cache
	subs      *alerts.Store
	setupMgr  *setup.Manager
	messenger transport.Messenger
	log       logx.Logger

	now func() time.Time
}

func NewHandlers(
	cfg func() *config.Config,
	store storage.Store,
	cache *deals.Cache,
	subs *alerts.Store,
	setupMgr *setup.Manager,
	messenger transport.Messenger,
	log logx.Logger,
) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		subs:      subs,
		setupMgr:  setupMgr,
		messenger: messenger,
		log:       log,
		now:       time.Now,
	}
}

func (h *Handlers) reply(ctx context.Context, req *Request, text string) error {
	_, err := h.messenger.SendChannel(ctx, req.ChatID, text, &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	return err
}

// Dispatch routes a parsed request to its handler. Unknown commands are
// ignored so the bot stays quiet in busy group chats.
func (h *Handlers) Dispatch(ctx context.Context, req *Request) error {
	if req.Update.Kind == transport.UpdateCallback {
		return h.handleCallback(ctx, req)
	}

	// Any command counts as activity for the inactivity sweep.
	h.subs.Touch(ctx, req.ChatID, req.FromID)

	switch req.Command {
	case "deals":
		return h.handleDeals(ctx, req)
	case "subscribe":
		return h.handleSubscribe(ctx, req)
	case "unsubscribe":
		return h.handleUnsubscribe(ctx, req)
	case "alerts":
		return h.handleAlerts(ctx, req)
	case "clearalerts":
		return h.handleClearAlerts(ctx, req)
	case "setchannel":
		return h.adminOnly(ctx, req, h.handleSetChannel)
	case "removechannel":
		return h.adminOnly(ctx, req, h.handleRemoveChannel)
	case "testalert":
		return h.adminOnly(ctx, req, h.handleTestAlert)
	case "help", "start":
		return h.handleHelp(ctx, req)
	case "info":
		return h.handleInfo(ctx, req)
	default:
		return nil
	}
}

func (h *Handlers) adminOnly(ctx context.Context, req *Request, next HandlerFunc) error {
	if !h.cfg().IsAdmin(req.FromID) {
		return h.reply(ctx, req, "This command is for bot admins only.")
	}
	return next(ctx, req)
}

func (h *Handlers) communityCurrency(ctx context.Context, communityID int64) string {
	cfg, _ := h.store.LoadCommunity(ctx, communityID)
	return cfg.CurrencyCode
}

func (h *Handlers) handleDeals(ctx context.Context, req *Request) error {
	snap, err := h.cache.Get(ctx, h.communityCurrency(ctx, req.ChatID))
	if err != nil {
		if errors.Is(err, deals.ErrUpstreamUnavailable) {
			return h.reply(ctx, req, "The store is unreachable right now, try again in a bit.")
		}
		return err
	}
	return h.reply(ctx, req, format.Snapshot(snap, h.now()))
}

func (h *Handlers) handleSubscribe(ctx context.Context, req *Request) error {
	name := strings.TrimSpace(req.Args)
	if name == "" {
		return h.reply(ctx, req, "Usage: /subscribe &lt;game name&gt;")
	}
	err := h.subs.Subscribe(ctx, req.ChatID, req.FromID, name)
	switch {
	case errors.Is(err, alerts.ErrDuplicateSubscription):
		return h.reply(ctx, req, fmt.Sprintf("You already have an alert for %q.", alerts.Key(name)))
	case err != nil:
		return err
	}
	return h.reply(ctx, req, fmt.Sprintf(
		"Alert added for %q. You'll get a DM when a matching deal shows up; the alert fires once and is then removed.",
		alerts.Key(name),
	))
}

func (h *Handlers) handleUnsubscribe(ctx context.Context, req *Request) error {
	name := strings.TrimSpace(req.Args)
	if name == "" {
		return h.reply(ctx, req, "Usage: /unsubscribe &lt;game name&gt;")
	}
	removed, err := h.subs.Unsubscribe(ctx, req.ChatID, req.FromID, name)
	if err != nil {
		return err
	}
	if !removed {
		return h.reply(ctx, req, fmt.Sprintf("No alert found for %q.", alerts.Key(name)))
	}
	return h.reply(ctx, req, fmt.Sprintf("Alert for %q removed.", alerts.Key(name)))
}

func (h *Handlers) handleAlerts(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, format.SubscriptionList(h.subs.List(ctx, req.ChatID, req.FromID)))
}

func (h *Handlers) handleClearAlerts(ctx context.Context, req *Request) error {
	n, err := h.subs.Clear(ctx, req.ChatID, req.FromID)
	if err != nil {
		return err
	}
	if n == 0 {
		return h.reply(ctx, req, "You had no alerts to clear.")
	}
	return h.reply(ctx, req, fmt.Sprintf("Removed %d alert(s).", n))
}

func (h *Handlers) handleSetChannel(ctx context.Context, req *Request) error {
	// Target channel: explicit id argument, or the current chat.
	channelID := req.ChatID
	if arg := strings.TrimSpace(req.Args); arg != "" {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return h.reply(ctx, req, "Usage: /setchannel [channel id]")
		}
		channelID = id
	}

	// Same initiator, same target: just re-open the prompt. The pending
	// setup and its deadline stay as they are.
	if p, ok := h.setupMgr.Pending(req.ChatID); ok && p.InitiatorID == req.FromID && p.ChannelID == channelID {
		return h.sendCurrencyPrompt(ctx, req.ChatID)
	}

	_, superseded := h.setupMgr.Begin(req.ChatID, channelID, req.FromID)
	if superseded {
		h.log.Debug("previous setup superseded", logx.Int64("community", req.ChatID))
	}
	return h.sendCurrencyPrompt(ctx, req.ChatID)
}

func (h *Handlers) sendCurrencyPrompt(ctx context.Context, chatID int64) error {
	rows := make([][]transport.InlineButton, 0, (len(currencyChoices)+2)/3)
	var row []transport.InlineButton
	for _, c := range currencyChoices {
		row = append(row, transport.InlineButton{Text: c.Label, Data: setupCallbackPrefix + c.Region})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	_, err := h.messenger.SendChannel(ctx, chatID,
		"Pick the store currency for deal posts (expires in 10 minutes):",
		&transport.SendOptions{InlineKeyboard: rows},
	)
	return err
}

func (h *Handlers) handleCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	region, ok := strings.CutPrefix(strings.TrimPrefix(req.Payload, "\f"), setupCallbackPrefix)
	if !ok {
		return h.messenger.AnswerCallback(ctx, cb.ID, "")
	}

	cfg, err := h.setupMgr.Confirm(ctx, req.ChatID, req.FromID, region)
	switch {
	case errors.Is(err, setup.ErrNotAuthorized):
		return h.messenger.AnswerCallback(ctx, cb.ID, "Only the user who started setup can pick the currency.")
	case errors.Is(err, setup.ErrNoActiveSetup):
		return h.messenger.AnswerCallback(ctx, cb.ID, "This setup has expired. Run /setchannel again.")
	case err != nil:
		return err
	}

	if err := h.messenger.AnswerCallback(ctx, cb.ID, "Saved"); err != nil {
		h.log.Debug("callback answer failed", logx.Err(err))
	}
	return h.reply(ctx, req, fmt.Sprintf(
		"Deals channel configured (channel <code>%d</code>, region <code>%s</code>). Auto-posts are on.",
		cfg.DealsChannelID, cfg.CurrencyCode,
	))
}

func (h *Handlers) handleRemoveChannel(ctx context.Context, req *Request) error {
	cfg, _ := h.store.LoadCommunity(ctx, req.ChatID)
	if cfg.DealsChannelID == 0 {
		return h.reply(ctx, req, "No deals channel is configured.")
	}
	cfg.DealsChannelID = 0
	cfg.LastPostMessageID = 0
	if err := h.store.SaveCommunity(ctx, cfg); err != nil {
		return err
	}
	return h.reply(ctx, req, "Deals channel removed, auto-posts are off.")
}

func (h *Handlers) handleTestAlert(ctx context.Context, req *Request) error {
	cfg, _ := h.store.LoadCommunity(ctx, req.ChatID)
	if cfg.DealsChannelID == 0 {
		return h.reply(ctx, req, "Configure a deals channel first with /setchannel.")
	}
	snap, err := h.cache.Get(ctx, cfg.CurrencyCode)
	if err != nil {
		return h.reply(ctx, req, "The store is unreachable right now, try again in a bit.")
	}
	if _, err := h.messenger.SendChannel(ctx, cfg.DealsChannelID,
		format.Snapshot(snap, h.now()),
		&transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
	); err != nil {
		return err
	}
	return h.reply(ctx, req, "Test post sent.")
}

func (h *Handlers) handleHelp(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, strings.Join([]string{
		"<b>Commands</b>",
		"/deals — current discounts",
		"/subscribe &lt;game&gt; — DM me when it goes on sale (fires once)",
		"/unsubscribe &lt;game&gt; — remove one alert",
		"/alerts — list your alerts",
		"/clearalerts — remove all your alerts",
		"/setchannel — configure the auto-post channel (admin)",
		"/removechannel — stop auto-posts (admin)",
		"/testalert — post the current deals to the channel (admin)",
		"/info — bot status",
	}, "\n"))
}

func (h *Handlers) handleInfo(ctx context.Context, req *Request) error {
	cfg, _ := h.store.LoadCommunity(ctx, req.ChatID)
	var b strings.Builder
	b.WriteString("<b>Status</b>\n")
	if cfg.DealsChannelID != 0 {
		fmt.Fprintf(&b, "Deals channel: <code>%d</code> (region %s)\n", cfg.DealsChannelID, cfg.CurrencyCode)
	} else {
		b.WriteString("Deals channel: not configured\n")
	}
	if p, ok := h.setupMgr.Pending(req.ChatID); ok {
		fmt.Fprintf(&b, "Setup in progress, expires %s\n", p.ExpiresAt.Format(time.Kitchen))
	}
	subs := h.subs.List(ctx, req.ChatID, req.FromID)
	fmt.Fprintf(&b, "Your alerts: %d", len(subs))
	return h.reply(ctx, req, b.String())
}
