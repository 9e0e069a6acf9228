// Package slack posts and edits build notifications through the Slack Web API.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/notifications"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 1.0
	defaultBurst     = 5
)

// Config holds Slack sender configuration.
type Config struct {
	Token     string        // bot token, xoxb-...
	APIURL    string        // Web API base URL, empty for slack.com
	Timeout   time.Duration // request timeout
	RateLimit float64       // sustained requests per second
	Burst     int
}

// Sender implements notifications.Sender on top of chat.postMessage and
// chat.update.
type Sender struct {
	config  Config
	api     *slack.Client
	limiter *rate.Limiter
}

// NewSender creates a new Slack sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst == 0 {
		config.Burst = defaultBurst
	}

	opts := []slack.Option{
		slack.OptionHTTPClient(&http.Client{Timeout: config.Timeout}),
	}
	if config.APIURL != "" {
		apiURL := config.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}

	return &Sender{
		config:  config,
		api:     slack.New(config.Token, opts...),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}
}

// PostMessage posts msg to channel and returns the reference Slack assigned
// to it. The returned channel is the channel ID even when a name was given.
func (s *Sender) PostMessage(ctx context.Context, channel string, msg notifications.Message) (notifications.MessageRef, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.MessageRef{}, fmt.Errorf("rate limit wait: %w", err)
	}

	channelID, ts, err := s.api.PostMessageContext(ctx, channel, messageOptions(msg)...)
	if err != nil {
		return notifications.MessageRef{}, fmt.Errorf("chat.postMessage: %w", err)
	}

	slog.Debug("slack message posted", "channel", channelID, "ts", ts)
	return notifications.MessageRef{Channel: channelID, TS: ts}, nil
}

// UpdateMessage replaces the content of a previously posted message.
func (s *Sender) UpdateMessage(ctx context.Context, ref notifications.MessageRef, msg notifications.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if _, _, _, err := s.api.UpdateMessageContext(ctx, ref.Channel, ref.TS, messageOptions(msg)...); err != nil {
		return fmt.Errorf("chat.update: %w", err)
	}

	slog.Debug("slack message updated", "channel", ref.Channel, "ts", ref.TS)
	return nil
}

func messageOptions(msg notifications.Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}

	if msg.Color == "" && len(msg.Fields) == 0 {
		return opts
	}

	fields := make([]slack.AttachmentField, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, slack.AttachmentField{
			Title: f.Title,
			Value: f.Value,
			Short: f.Short,
		})
	}

	return append(opts, slack.MsgOptionAttachments(slack.Attachment{
		Color:    msg.Color,
		Fallback: msg.Text,
		Fields:   fields,
	}))
}
