package buildevent

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// statusLine matches lines like
// "Go pipeline stage [Foo_Bar/20/Deploy/1] passed".
var statusLine = regexp.MustCompile(
	`^Go pipeline stage \[(?P<stage>[^/\]]+)/(?P<counter>[^/\]]+)/(?P<step>[^/\]]+)/(?P<attempt>[^/\]]+)\] (?P<result>passed|failed)\b`,
)

var (
	stageIdx   = statusLine.SubexpIndex("stage")
	counterIdx = statusLine.SubexpIndex("counter")
	stepIdx    = statusLine.SubexpIndex("step")
	attemptIdx = statusLine.SubexpIndex("attempt")
	resultIdx  = statusLine.SubexpIndex("result")
)

// Extractor recognises status lines from the GoCD bot.
type Extractor struct {
	botID    string
	monitors []Monitor
	logger   *slog.Logger
}

// NewExtractor creates an Extractor. Monitors are matched in the given order.
func NewExtractor(botID string, monitors []Monitor, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		botID:    botID,
		monitors: append([]Monitor(nil), monitors...),
		logger:   logger,
	}
}

// Extract parses text posted by senderID. The second return value is false
// for anything that is not a tracked status line from the GoCD bot.
func (e *Extractor) Extract(senderID, text string) (Event, bool) {
	if senderID == "" || senderID != e.botID {
		e.logger.Debug("ignoring message from unrecognised sender", "sender", senderID)
		return Event{}, false
	}

	text = strings.TrimSpace(text)
	m := statusLine.FindStringSubmatch(text)
	if m == nil {
		e.logger.Info("unable to match status line", "text", text)
		return Event{}, false
	}

	counter, err := strconv.ParseUint(m[counterIdx], 10, 64)
	if err != nil {
		e.logger.Info("status line has non-numeric build counter", "text", text, "counter", m[counterIdx])
		return Event{}, false
	}
	attempt, err := strconv.ParseUint(m[attemptIdx], 10, 64)
	if err != nil {
		e.logger.Info("status line has non-numeric attempt", "text", text, "attempt", m[attemptIdx])
		return Event{}, false
	}

	stage := m[stageIdx]
	monitor, ok := e.match(stage)
	if !ok {
		e.logger.Debug("no monitor for pipeline stage", "stage", stage)
		return Event{}, false
	}

	return Event{
		MonitorName:   monitor.Name,
		Channel:       monitor.PostChannel,
		PipelineStage: stage,
		BuildCounter:  counter,
		StepName:      m[stepIdx],
		Attempt:       attempt,
		Result:        Result(m[resultIdx]),
	}, true
}

func (e *Extractor) match(stage string) (Monitor, bool) {
	for _, mon := range e.monitors {
		if strings.HasPrefix(stage, mon.FilterPrefix) {
			return mon, true
		}
	}
	return Monitor{}, false
}
