package progress

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/eml-to-csv/stats"
)

func TestBar_CountsDownloads(t *testing.T) {
	bar := New(false, nil)
	events := []stats.Event{
		{Type: stats.EventTypeLinkFound, URL: "https://a/1.csv"},
		{Type: stats.EventTypeLinkFound, URL: "https://a/2.csv"},
		{Type: stats.EventTypeLinkFound, URL: "https://a/3.csv"},
		{Type: stats.EventTypeLinkDropped, URL: "https://a/3.csv"},
		{Type: stats.EventTypeAttempt, URL: "https://a/1.csv", Attempt: 1},
		{Type: stats.EventTypeDownloaded, URL: "https://a/1.csv"},
		{Type: stats.EventTypeAttempt, URL: "https://a/2.csv", Attempt: 1},
		{Type: stats.EventTypeAttempt, URL: "https://a/2.csv", Attempt: 2},
		{Type: stats.EventTypeFailed, URL: "https://a/2.csv", Err: errors.New("503")},
	}
	for _, evt := range events {
		bar.Update(evt)
	}

	assert.Equal(t, 2, bar.Total())
	finished, failed := bar.Done()
	assert.Equal(t, 2, finished)
	assert.Equal(t, 1, failed)
}

func TestBar_SubscriberDrainsUntilClosed(t *testing.T) {
	bar := New(false, nil)
	ch := make(chan stats.Event, 2)
	ch <- stats.Event{Type: stats.EventTypeLinkFound}
	ch <- stats.Event{Type: stats.EventTypeLinkFound}
	close(ch)

	require.NoError(t, bar.Subscriber(context.Background(), ch))
	assert.Equal(t, 2, bar.Total())
}

func TestBar_SubscriberStopsOnCancel(t *testing.T) {
	bar := New(false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bar.Subscriber(ctx, make(chan stats.Event))
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingStream struct {
	names []string
}

func (s *recordingStream) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	s.names = append(s.names, name)
}

func TestBar_AttachOnlyWhenEnabled(t *testing.T) {
	stream := &recordingStream{}
	New(false, nil).Attach(stream)
	assert.Empty(t, stream.names)

	New(true, nil).Attach(stream)
	assert.Equal(t, []string{"progress-bar"}, stream.names)
}

func TestTitle(t *testing.T) {
	short := "https://example.com/a.csv"
	assert.Equal(t, short, title(short))

	long := "https://example.com/" + strings.Repeat("x", 80) + ".csv"
	got := title(long)
	assert.Len(t, got, maxTitle)
	assert.True(t, strings.HasSuffix(got, ".csv"))
	assert.True(t, strings.HasPrefix(got, "..."))
}
