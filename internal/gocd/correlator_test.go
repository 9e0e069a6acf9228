package gocd

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	records []HistoryRecord
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubSource) History(_ context.Context, _ string) ([]HistoryRecord, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.records, s.err
}

func TestResolveRevision(t *testing.T) {
	source := &stubSource{records: []HistoryRecord{
		{Counter: 21},
		{Counter: 20, RevisionID: 4471, HasRevision: true},
		{Counter: 19, RevisionID: 4470, HasRevision: true},
	}}
	c := NewCorrelator(source)

	rev, err := c.ResolveRevision(context.Background(), "Foo_Bar", 20)

	require.NoError(t, err)
	assert.Equal(t, uint64(4471), rev)
}

func TestResolveRevision_BuildNotFound(t *testing.T) {
	c := NewCorrelator(&stubSource{records: []HistoryRecord{{Counter: 19, RevisionID: 1, HasRevision: true}}})

	_, err := c.ResolveRevision(context.Background(), "Foo_Bar", 20)

	assert.ErrorIs(t, err, ErrBuildNotFound)
	assert.ErrorIs(t, err, ErrLookup)
}

func TestResolveRevision_NoRevisionData(t *testing.T) {
	c := NewCorrelator(&stubSource{records: []HistoryRecord{{Counter: 21}}})

	_, err := c.ResolveRevision(context.Background(), "Foo_Bar", 21)

	assert.ErrorIs(t, err, ErrNoRevisionData)
	assert.ErrorIs(t, err, ErrLookup)
}

func TestResolveRevision_TransportError(t *testing.T) {
	cause := errors.New("connection refused")
	c := NewCorrelator(&stubSource{err: &TransportError{Pipeline: "Foo_Bar", Err: cause}})

	_, err := c.ResolveRevision(context.Background(), "Foo_Bar", 20)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrLookup)
}

func TestResolveRevision_SharesConcurrentLookups(t *testing.T) {
	source := &stubSource{
		records: []HistoryRecord{{Counter: 20, RevisionID: 4471, HasRevision: true}},
		delay:   100 * time.Millisecond,
	}
	c := NewCorrelator(source)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rev, err := c.ResolveRevision(context.Background(), "Foo_Bar", 20)
			assert.NoError(t, err)
			assert.Equal(t, uint64(4471), rev)
		}()
	}
	wg.Wait()

	assert.Less(t, source.calls.Load(), int32(10))
}
