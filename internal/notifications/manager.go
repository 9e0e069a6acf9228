// Package notifications keeps one Slack message per tracked build and
// updates it in place as new status lines arrive.
package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/buildevent"
)

// RevisionResolver maps a pipeline run to its source revision.
type RevisionResolver interface {
	ResolveRevision(ctx context.Context, pipeline string, counter uint64) (uint64, error)
}

// Sender posts and edits messages with the messaging provider.
type Sender interface {
	PostMessage(ctx context.Context, channel string, msg Message) (MessageRef, error)
	UpdateMessage(ctx context.Context, ref MessageRef, msg Message) error
}

// Key identifies one build's notification. The revision id, not the build
// counter, is used because counters reset.
type Key struct {
	Monitor    string
	RevisionID uint64
}

// Entry records a posted notification.
type Entry struct {
	Ref       MessageRef
	Failed    bool
	UpdatedAt time.Time
}

// ManagerConfig contains manager configuration.
type ManagerConfig struct {
	// SweepInterval is the minimum time between two sweeps.
	SweepInterval time.Duration
	// StaleAfter is how long an entry may go without updates before a
	// sweep removes it.
	StaleAfter time.Duration
	// SendTimeout bounds each provider call.
	SendTimeout time.Duration
}

// DefaultManagerConfig returns default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SweepInterval: 24 * time.Hour,
		StaleAfter:    4 * time.Hour,
		SendTimeout:   5 * time.Second,
	}
}

// Manager decides between posting a new message and updating the existing
// one for each build event.
type Manager struct {
	config   ManagerConfig
	resolver RevisionResolver
	sender   Sender
	renderer *Renderer
	logger   *slog.Logger
	now      func() time.Time

	// mu guards index and is held across the provider call so that two
	// events for one key can never both see it absent.
	mu    sync.Mutex
	index map[Key]*Entry

	// sweepMu is only ever acquired with TryLock.
	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewManager creates a new Manager.
func NewManager(config ManagerConfig, resolver RevisionResolver, sender Sender, renderer *Renderer, logger *slog.Logger) *Manager {
	defaults := DefaultManagerConfig()
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.SendTimeout == 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:    config,
		resolver:  resolver,
		sender:    sender,
		renderer:  renderer,
		logger:    logger,
		now:       time.Now,
		index:     make(map[Key]*Entry),
		lastSweep: time.Now(),
	}
}

// HandleBuildEvent posts or updates the notification for ev. Failures are
// logged and absorbed; nothing is returned to the caller.
func (m *Manager) HandleBuildEvent(ctx context.Context, ev buildevent.Event) {
	defer m.sweep()

	logger := m.logger.With(
		"monitor", ev.MonitorName,
		"pipeline", ev.PipelineStage,
		"counter", ev.BuildCounter,
		"step", ev.StepName,
		"result", ev.Result,
	)

	revision, err := m.resolver.ResolveRevision(ctx, ev.PipelineStage, ev.BuildCounter)
	recordLookup(err)
	if err != nil {
		logger.Warn("failed to resolve build revision", "error", err)
		return
	}
	logger = logger.With("revision", revision)

	data := newMessageData(ev, revision, m.now())
	created, err := m.renderer.Render(MessageTypeNew, data)
	if err != nil {
		logger.Error("failed to render notification", "type", MessageTypeNew, "error", err)
		return
	}
	updated, err := m.renderer.Render(MessageTypeUpdate, data)
	if err != nil {
		logger.Error("failed to render notification", "type", MessageTypeUpdate, "error", err)
		return
	}

	key := Key{Monitor: ev.MonitorName, RevisionID: revision}
	m.apply(ctx, logger, key, ev, created, updated)
}

func (m *Manager) apply(ctx context.Context, logger *slog.Logger, key Key, ev buildevent.Event, created, updated Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, m.config.SendTimeout)
	defer cancel()

	entry, ok := m.index[key]
	if !ok {
		start := time.Now()
		ref, err := m.sender.PostMessage(sendCtx, ev.Channel, created)
		recordSend(OpPost, err, time.Since(start))
		if err != nil {
			logger.Error("failed to post build notification",
				"error", &SendError{Op: OpPost, Channel: ev.Channel, Err: err},
			)
			return
		}

		m.index[key] = &Entry{
			Ref:       ref,
			Failed:    ev.Result.Failed(),
			UpdatedAt: m.now(),
		}
		indexEntries.Set(float64(len(m.index)))
		logger.Info("posted build notification", "channel", ref.Channel, "ts", ref.TS)
		return
	}

	start := time.Now()
	err := m.sender.UpdateMessage(sendCtx, entry.Ref, updated)
	recordSend(OpUpdate, err, time.Since(start))
	if err != nil {
		logger.Error("failed to update build notification",
			"error", &SendError{Op: OpUpdate, Channel: entry.Ref.Channel, Err: err},
			"ts", entry.Ref.TS,
		)
		return
	}

	entry.Failed = ev.Result.Failed()
	entry.UpdatedAt = m.now()
	logger.Info("updated build notification", "channel", entry.Ref.Channel, "ts", entry.Ref.TS)
}

// sweep removes stale entries at most once per SweepInterval. It returns
// immediately if another sweep holds the gate.
func (m *Manager) sweep() {
	if !m.sweepMu.TryLock() {
		return
	}
	defer m.sweepMu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) < m.config.SweepInterval {
		return
	}

	m.mu.Lock()
	evicted := 0
	for key, entry := range m.index {
		if now.Sub(entry.UpdatedAt) > m.config.StaleAfter {
			delete(m.index, key)
			evicted++
		}
	}
	remaining := len(m.index)
	m.mu.Unlock()

	m.lastSweep = now
	recordSweep(evicted, remaining)
	m.logger.Info("swept stale build notifications", "evicted", evicted, "remaining", remaining)
}

// Len returns the number of tracked builds.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}

// Lookup returns a copy of the entry for key.
func (m *Manager) Lookup(key Key) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.index[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}
