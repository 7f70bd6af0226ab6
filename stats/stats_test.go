package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 16)

	boom := errors.New("HTTP 500")
	for _, evt := range []Event{
		{Stage: StageExtract, Type: EventTypeLinkFound, URL: "a"},
		{Stage: StageExtract, Type: EventTypeLinkFound, URL: "b"},
		{Stage: StageFilter, Type: EventTypeLinkDropped, URL: "b"},
		{Stage: StageFetch, Type: EventTypeAttempt, URL: "a", Attempt: 1},
		{Stage: StageFetch, Type: EventTypeRetry, URL: "a", Attempt: 1},
		{Stage: StageFetch, Type: EventTypeAttempt, URL: "a", Attempt: 2},
		{Stage: StageFetch, Type: EventTypeFailed, URL: "a", Err: boom},
		{Stage: StageAggregate, Type: EventTypeFileAdded, Path: "x.csv", Rows: 3},
		{Stage: StageAggregate, Type: EventTypeFileAdded, Path: "y.csv", Rows: 2},
		{Stage: StageAggregate, Type: EventTypeFileSkipped, Path: "z.csv"},
	} {
		events <- evt
	}
	close(events)

	c.Run(context.Background(), events)
	s := c.Snapshot()

	assert.Equal(t, 2, s.Links)
	assert.Equal(t, 1, s.Dropped)
	assert.Equal(t, 2, s.Attempts)
	assert.Equal(t, 1, s.Retries)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.FilesAdded)
	assert.Equal(t, 1, s.FilesSkipped)
	assert.Equal(t, 5, s.Rows)
	assert.Equal(t, boom, s.LastError)
}

type fakeStream struct {
	fn func(context.Context, <-chan Event) error
}

func (f *fakeStream) SubscribeStats(_ string, fn func(context.Context, <-chan Event) error) {
	f.fn = fn
}

func TestReporterSummary(t *testing.T) {
	stream := &fakeStream{}
	r := NewReporter(stream, nil)

	events := make(chan Event, 2)
	events <- Event{Type: EventTypeDownloaded}
	events <- Event{Type: EventTypeError, Err: errors.New("x")}
	close(events)

	assert.NoError(t, stream.fn(context.Background(), events))
	s := r.Summary()
	assert.Equal(t, 1, s.Downloaded)
	assert.Equal(t, 1, s.Errors)

	attrs := s.LogAttrs()
	assert.Contains(t, attrs, "lastError")
}
