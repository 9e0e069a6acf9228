// Package webhook serves the Slack Events API endpoint.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/bissquit/gocd-slack-relay/internal/buildevent"
	"github.com/bissquit/gocd-slack-relay/internal/pkg/ctxlog"
	"github.com/bissquit/gocd-slack-relay/internal/pkg/httputil"
	"github.com/bissquit/gocd-slack-relay/internal/pkg/metrics"
	"github.com/bissquit/gocd-slack-relay/internal/slackauth"
	"github.com/go-chi/chi/v5"
)

// Envelope types sent by the Events API.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
)

const maxBodyBytes = 1 << 20

// Webhook errors.
var (
	ErrBadToken         = errors.New("verification token mismatch")
	ErrMissingChallenge = errors.New("url_verification without challenge")
)

var errorMappings = []httputil.ErrorMapping{
	{Error: slackauth.ErrMissingHeaders, Status: http.StatusBadRequest, Message: "missing slack signature headers"},
	{Error: slackauth.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "unauthenticated"},
	{Error: ErrBadToken, Status: http.StatusUnauthorized, Message: "unauthenticated"},
	{Error: ErrMissingChallenge, Status: http.StatusBadRequest},
}

// Verifier authenticates a request and decodes its body into dst.
type Verifier interface {
	Verify(header http.Header, body []byte, dst any) error
}

// Extractor turns a bot message into a build event.
type Extractor interface {
	Extract(senderID, text string) (buildevent.Event, bool)
}

// EventHandler consumes build events.
type EventHandler interface {
	HandleBuildEvent(ctx context.Context, ev buildevent.Event)
}

// Handler handles Slack Events API deliveries.
type Handler struct {
	verifier          Verifier
	extractor         Extractor
	events            EventHandler
	verificationToken string
}

// NewHandler creates a new webhook handler. An empty verificationToken
// disables the legacy envelope token check.
func NewHandler(verifier Verifier, extractor Extractor, events EventHandler, verificationToken string) *Handler {
	return &Handler{
		verifier:          verifier,
		extractor:         extractor,
		events:            events,
		verificationToken: verificationToken,
	}
}

// RegisterRoutes registers webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(httputil.BodyLimitMiddleware(maxBodyBytes), httputil.SlackRetryMiddleware).
		Post("/event", h.ReceiveEvent)
	r.Get("/app_status", h.AppStatus)
}

type envelope struct {
	Token     string       `json:"token"`
	Type      string       `json:"type"`
	Challenge string       `json:"challenge"`
	TeamID    string       `json:"team_id"`
	EventID   string       `json:"event_id"`
	Event     messageEvent `json:"event"`
}

type messageEvent struct {
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype"`
	Channel     string       `json:"channel"`
	User        string       `json:"user"`
	BotID       string       `json:"bot_id"`
	Text        string       `json:"text"`
	TS          string       `json:"ts"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Fallback string `json:"fallback"`
}

// statusText returns the text carrying the GoCD status line. The GoCD bot
// puts it in the first attachment's title.
func (e messageEvent) statusText() string {
	if len(e.Attachments) > 0 && e.Attachments[0].Title != "" {
		return e.Attachments[0].Title
	}
	return e.Text
}

// ReceiveEvent handles POST /event.
func (h *Handler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ctxlog.FromContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.SlackEvents.WithLabelValues("too_large").Inc()
			httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		metrics.SlackEvents.WithLabelValues("read_error").Inc()
		httputil.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var env envelope
	if err := h.verifier.Verify(r.Header, body, &env); err != nil {
		if errors.Is(err, slackauth.ErrMalformedBody) {
			metrics.SlackEvents.WithLabelValues("malformed").Inc()
			logger.Warn("dropping malformed slack event", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		metrics.SlackEvents.WithLabelValues("unauthenticated").Inc()
		logger.Warn("rejected slack request", "error", err)
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	if h.verificationToken != "" &&
		subtle.ConstantTimeCompare([]byte(env.Token), []byte(h.verificationToken)) != 1 {
		metrics.SlackEvents.WithLabelValues("unauthenticated").Inc()
		logger.Warn("rejected slack request", "error", ErrBadToken)
		httputil.HandleError(ctx, w, ErrBadToken, errorMappings)
		return
	}

	switch env.Type {
	case TypeURLVerification:
		if env.Challenge == "" {
			metrics.SlackEvents.WithLabelValues("malformed").Inc()
			httputil.HandleError(ctx, w, ErrMissingChallenge, errorMappings)
			return
		}
		metrics.SlackEvents.WithLabelValues("url_verification").Inc()
		logger.Info("answering slack url verification")
		httputil.JSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})

	case TypeEventCallback:
		h.handleCallback(ctx, env)
		w.WriteHeader(http.StatusOK)

	default:
		metrics.SlackEvents.WithLabelValues("ignored").Inc()
		logger.Info("ignoring slack envelope", "type", env.Type)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleCallback(ctx context.Context, env envelope) {
	ctx = ctxlog.With(ctx, "event_id", env.EventID)
	logger := ctxlog.FromContext(ctx)

	if env.Event.Type != "message" {
		metrics.SlackEvents.WithLabelValues("ignored").Inc()
		logger.Debug("ignoring slack event", "event_type", env.Event.Type)
		return
	}

	ev, ok := h.extractor.Extract(env.Event.BotID, env.Event.statusText())
	if !ok {
		metrics.SlackEvents.WithLabelValues("ignored").Inc()
		return
	}

	metrics.SlackEvents.WithLabelValues("build_event").Inc()
	logger.Info("received build event",
		"monitor", ev.MonitorName,
		"pipeline", ev.PipelineStage,
		"counter", ev.BuildCounter,
		"step", ev.StepName,
		"result", ev.Result,
	)

	// A client disconnect must not abort a half-finished post or update.
	h.events.HandleBuildEvent(context.WithoutCancel(ctx), ev)
}

// AppStatus handles GET /app_status.
func (h *Handler) AppStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "ok")
}
