package gocd

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// HistorySource returns the runs recorded for a pipeline.
type HistorySource interface {
	History(ctx context.Context, pipeline string) ([]HistoryRecord, error)
}

// Correlator maps (pipeline, build counter) to the revision id that built it.
// The revision survives counter resets, so it is the durable half of a
// notification key.
type Correlator struct {
	source HistorySource
	group  singleflight.Group
}

// NewCorrelator creates a Correlator over source.
func NewCorrelator(source HistorySource) *Correlator {
	return &Correlator{source: source}
}

// ResolveRevision returns the revision id of run counter of pipeline.
// Concurrent calls for the same pipeline share one history request.
func (c *Correlator) ResolveRevision(ctx context.Context, pipeline string, counter uint64) (uint64, error) {
	v, err, _ := c.group.Do(pipeline, func() (any, error) {
		return c.source.History(ctx, pipeline)
	})
	if err != nil {
		return 0, err
	}
	records := v.([]HistoryRecord)

	for _, rec := range records {
		if rec.Counter != counter {
			continue
		}
		if !rec.HasRevision {
			return 0, fmt.Errorf("%s/%d: %w", pipeline, counter, ErrNoRevisionData)
		}
		return rec.RevisionID, nil
	}
	return 0, fmt.Errorf("%s/%d: %w", pipeline, counter, ErrBuildNotFound)
}
