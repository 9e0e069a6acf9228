package notifications

import (
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/buildevent"
)

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeNew    MessageType = "new"    // First status line for a revision
	MessageTypeUpdate MessageType = "update" // Every later status line
)

// MessageData contains build information for rendering a notification.
type MessageData struct {
	Monitor    string
	Stage      string
	Counter    uint64
	Step       string
	Attempt    uint64
	Result     buildevent.Result
	RevisionID uint64
	UpdatedAt  time.Time
}

// Message is a rendered notification ready to be sent.
type Message struct {
	Text   string
	Color  string
	Fields []Field
}

// Field is a short key/value shown under the message text.
type Field struct {
	Title string
	Value string
	Short bool
}

// MessageRef addresses a message already posted to the provider.
type MessageRef struct {
	Channel string
	TS      string
}

func newMessageData(ev buildevent.Event, revision uint64, now time.Time) MessageData {
	return MessageData{
		Monitor:    ev.MonitorName,
		Stage:      ev.PipelineStage,
		Counter:    ev.BuildCounter,
		Step:       ev.StepName,
		Attempt:    ev.Attempt,
		Result:     ev.Result,
		RevisionID: revision,
		UpdatedAt:  now,
	}
}
