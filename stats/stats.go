package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageLoad      Stage = "load"
	StageExtract   Stage = "extract"
	StageFilter    Stage = "filter"
	StageFetch     Stage = "fetch"
	StageAggregate Stage = "aggregate"
)

type EventType string

const (
	EventTypeLoaded      EventType = "loaded"
	EventTypeLinkFound   EventType = "link_found"
	EventTypeLinkDropped EventType = "link_dropped"
	EventTypeAttempt     EventType = "attempt"
	EventTypeRetry       EventType = "retry"
	EventTypeDownloaded  EventType = "downloaded"
	EventTypeFailed      EventType = "failed"
	EventTypeFileAdded   EventType = "file_added"
	EventTypeFileSkipped EventType = "file_skipped"
	EventTypeAggregated  EventType = "aggregated"
	EventTypeError       EventType = "error"
)

type Event struct {
	Stage   Stage
	Type    EventType
	URL     string
	Path    string
	Attempt int
	Rows    int
	Err     error
	Detail  string
}

type Summary struct {
	Links        int
	Dropped      int
	Attempts     int
	Retries      int
	Downloaded   int
	Failed       int
	FilesAdded   int
	FilesSkipped int
	Rows         int
	Errors       int
	LastError    error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"links", s.Links,
		"dropped", s.Dropped,
		"attempts", s.Attempts,
		"retries", s.Retries,
		"downloaded", s.Downloaded,
		"failed", s.Failed,
		"filesAdded", s.FilesAdded,
		"filesSkipped", s.FilesSkipped,
		"rows", s.Rows,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeLinkFound:
		c.summary.Links++
	case EventTypeLinkDropped:
		c.summary.Dropped++
	case EventTypeAttempt:
		c.summary.Attempts++
	case EventTypeRetry:
		c.summary.Retries++
	case EventTypeDownloaded:
		c.summary.Downloaded++
	case EventTypeFailed:
		c.summary.Failed++
		c.recordErr(evt.Err)
	case EventTypeFileAdded:
		c.summary.FilesAdded++
		c.summary.Rows += evt.Rows
	case EventTypeFileSkipped:
		c.summary.FilesSkipped++
		c.recordErr(evt.Err)
	case EventTypeError:
		c.summary.Errors++
		c.recordErr(evt.Err)
	}
}

func (c *Collector) recordErr(err error) {
	if err != nil {
		c.summary.LastError = err
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("run summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
