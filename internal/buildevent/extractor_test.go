package buildevent

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gocdBot = "B0GOCD"

func newTestExtractor(monitors ...Monitor) *Extractor {
	if len(monitors) == 0 {
		monitors = []Monitor{{Name: "foo", FilterPrefix: "Foo_", PostChannel: "#foo-builds"}}
	}
	return NewExtractor(gocdBot, monitors, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtract_StatusLine(t *testing.T) {
	e := newTestExtractor()

	got, ok := e.Extract(gocdBot, "Go pipeline stage [Foo_Bar/20/Deploy/1] passed")

	require.True(t, ok)
	assert.Equal(t, Event{
		MonitorName:   "foo",
		Channel:       "#foo-builds",
		PipelineStage: "Foo_Bar",
		BuildCounter:  20,
		StepName:      "Deploy",
		Attempt:       1,
		Result:        Passed,
	}, got)
	assert.False(t, got.Result.Failed())
}

func TestExtract_Failed(t *testing.T) {
	e := newTestExtractor()

	got, ok := e.Extract(gocdBot, "Go pipeline stage [Foo_ECS_Distro/7/Test/2] failed")

	require.True(t, ok)
	assert.Equal(t, Failed, got.Result)
	assert.True(t, got.Result.Failed())
	assert.Equal(t, uint64(7), got.BuildCounter)
	assert.Equal(t, uint64(2), got.Attempt)
}

func TestExtract_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		text   string
	}{
		{"unknown sender", "B0OTHER", "Go pipeline stage [Foo_Bar/20/Deploy/1] passed"},
		{"empty sender", "", "Go pipeline stage [Foo_Bar/20/Deploy/1] passed"},
		{"unrelated chatter", gocdBot, "Live long and prospect."},
		{"unconfigured prefix", gocdBot, "Go pipeline stage [Zeus_ECS_Distro/20/Deploy/1] passed"},
		{"non-numeric counter", gocdBot, "Go pipeline stage [Foo_Bar/twenty/Deploy/1] passed"},
		{"non-numeric attempt", gocdBot, "Go pipeline stage [Foo_Bar/20/Deploy/x] passed"},
		{"negative counter", gocdBot, "Go pipeline stage [Foo_Bar/-1/Deploy/1] passed"},
		{"unknown result", gocdBot, "Go pipeline stage [Foo_Bar/20/Deploy/1] cancelled"},
		{"missing attempt", gocdBot, "Go pipeline stage [Foo_Bar/20/Deploy] passed"},
		{"not at start", gocdBot, "FYI: Go pipeline stage [Foo_Bar/20/Deploy/1] passed"},
		{"result prefix only", gocdBot, "Go pipeline stage [Foo_Bar/20/Deploy/1] passedx"},
	}

	e := newTestExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := e.Extract(tt.sender, tt.text)
			assert.False(t, ok)
		})
	}
}

func TestExtract_FirstMatchingMonitorWins(t *testing.T) {
	e := newTestExtractor(
		Monitor{Name: "zeus-ecs", FilterPrefix: "Zeus_ECS", PostChannel: "#ecs"},
		Monitor{Name: "zeus", FilterPrefix: "Zeus_", PostChannel: "#zeus"},
	)

	got, ok := e.Extract(gocdBot, "Go pipeline stage [Zeus_ECS_Distro/20/Deploy/1] passed")
	require.True(t, ok)
	assert.Equal(t, "zeus-ecs", got.MonitorName)
	assert.Equal(t, "#ecs", got.Channel)

	got, ok = e.Extract(gocdBot, "Go pipeline stage [Zeus_Web/3/Build/1] failed")
	require.True(t, ok)
	assert.Equal(t, "zeus", got.MonitorName)
}

func TestExtract_TrailingText(t *testing.T) {
	e := newTestExtractor()

	got, ok := e.Extract(gocdBot, "  Go pipeline stage [Foo_Bar/20/Deploy/1] passed (took 3m)\n")

	require.True(t, ok)
	assert.Equal(t, "Foo_Bar", got.PipelineStage)
}
