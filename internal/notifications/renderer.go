package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/buildevent"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Attachment colors.
const (
	colorPassed = "#36a64f"
	colorFailed = "#dc3545"
)

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[MessageType]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":       titleCase,
		"formatTime":  formatTime,
		"resultEmoji": resultEmoji,
	}

	r := &Renderer{
		templates: make(map[MessageType]*template.Template),
	}

	for _, msg := range []MessageType{MessageTypeNew, MessageTypeUpdate} {
		filename := fmt.Sprintf("templates/%s.tmpl", msg)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(msg)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", msg, err)
		}

		r.templates[msg] = tmpl
	}

	return r, nil
}

// Render renders a build notification of the given type.
func (r *Renderer) Render(messageType MessageType, data MessageData) (Message, error) {
	tmpl, ok := r.templates[messageType]
	if !ok {
		return Message{}, fmt.Errorf("template not found: %s", messageType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("execute template %s: %w", messageType, err)
	}

	color := colorPassed
	if data.Result.Failed() {
		color = colorFailed
	}

	return Message{
		Text:  strings.TrimSpace(buf.String()),
		Color: color,
		Fields: []Field{
			{Title: "Pipeline", Value: data.Stage, Short: true},
			{Title: "Build", Value: strconv.FormatUint(data.Counter, 10), Short: true},
			{Title: "Step", Value: data.Step, Short: true},
			{Title: "Result", Value: titleCase(string(data.Result)), Short: true},
		},
	}, nil
}

// Template functions

// A Caser keeps state between calls, so each render gets its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func resultEmoji(result buildevent.Result) string {
	switch result {
	case buildevent.Passed:
		return ":white_check_mark:"
	case buildevent.Failed:
		return ":x:"
	default:
		return ":grey_question:"
	}
}
