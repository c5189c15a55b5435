package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/streakwatch/internal/config"
	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/window"
	"github.com/sells-group/streakwatch/pkg/discord"
)

const (
	// DefaultColor is the embed side bar color (red).
	DefaultColor = 15158332
	// DefaultBotName is the display name the webhook posts under.
	DefaultBotName = "Streaky Bot"

	alertTitle  = "⚠️ GitHub Streak Alert"
	alertFooter = "GitHub Streak Alert"
)

// Sender delivers a webhook payload.
type Sender interface {
	Send(ctx context.Context, webhookURL string, payload discord.Payload) error
}

// Alert describes a day with no contributions yet.
type Alert struct {
	Username  string
	Now       time.Time
	Remaining model.Remaining
	Streak    *int
}

// Alerter formats streak alerts and posts them to the configured webhook.
// It keeps no state between calls and never retries.
type Alerter struct {
	sender Sender
	cfg    config.DiscordConfig
	now    func() time.Time
}

// NewAlerter creates an Alerter that delivers through sender.
func NewAlerter(sender Sender, cfg config.DiscordConfig) *Alerter {
	if cfg.Color == 0 {
		cfg.Color = DefaultColor
	}
	if cfg.BotName == "" {
		cfg.BotName = DefaultBotName
	}
	return &Alerter{
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Dispatch sends one alert. A nil error means the webhook acknowledged it.
func (a *Alerter) Dispatch(ctx context.Context, alert Alert) error {
	log := zap.L().With(
		zap.String("component", "monitoring.alerter"),
		zap.String("username", alert.Username),
	)

	if err := a.sender.Send(ctx, a.cfg.WebhookURL, a.Payload(alert)); err != nil {
		log.Error("monitoring: failed to send alert",
			zap.String("kind", string(model.KindOf(err))),
			zap.Error(err),
		)
		return err
	}

	log.Info("monitoring: alert sent",
		zap.Int("hours_remaining", alert.Remaining.Hours),
		zap.Int("minutes_remaining", alert.Remaining.Minutes),
	)
	return nil
}

// Payload builds the webhook body for alert. The timestamp is the time of
// the call, in UTC.
func (a *Alerter) Payload(alert Alert) discord.Payload {
	remaining := FormatRemaining(alert.Remaining)

	fields := []discord.Field{
		{Name: "Username", Value: alert.Username, Inline: true},
	}
	if alert.Streak != nil {
		fields = append(fields, discord.Field{
			Name:   "Current Streak",
			Value:  fmt.Sprintf("%d days", *alert.Streak),
			Inline: true,
		})
	}
	fields = append(fields, discord.Field{Name: "Time Remaining", Value: remaining, Inline: true})

	return discord.Payload{
		Username: a.cfg.BotName,
		Embeds: []discord.Embed{{
			Title: alertTitle,
			Description: fmt.Sprintf(
				"You have 0 contributions today (%s).\nTime remaining: %s.\n\nPush a commit soon to keep your streak alive! 🔥",
				window.DayKey(alert.Now), remaining,
			),
			Color:     a.cfg.Color,
			Fields:    fields,
			Footer:    &discord.Footer{Text: alertFooter},
			Timestamp: a.now().UTC().Format(time.RFC3339),
		}},
	}
}

// FormatRemaining renders r as "H hours, M minutes".
func FormatRemaining(r model.Remaining) string {
	return fmt.Sprintf("%d hours, %d minutes", r.Hours, r.Minutes)
}
