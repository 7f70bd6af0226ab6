package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dhcgn/eml-to-csv/aggregate"
	"github.com/dhcgn/eml-to-csv/config"
	"github.com/dhcgn/eml-to-csv/eml"
	"github.com/dhcgn/eml-to-csv/fetch"
	"github.com/dhcgn/eml-to-csv/filter"
	"github.com/dhcgn/eml-to-csv/links"
	"github.com/dhcgn/eml-to-csv/model"
	"github.com/dhcgn/eml-to-csv/report"
	"github.com/dhcgn/eml-to-csv/stats"
)

// Outcome is everything a finished (or aborted) run produced.
type Outcome struct {
	Message   model.Message
	Links     []string
	Dropped   []string
	Downloads []model.DownloadResult
	Table     *model.CombinedTable
	Report    aggregate.Report
	Status    report.Status
}

// Succeeded returns the downloads that produced a local file.
func (o Outcome) Succeeded() []model.DownloadResult {
	var out []model.DownloadResult
	for _, d := range o.Downloads {
		if d.Success {
			out = append(out, d)
		}
	}
	return out
}

type subscriber struct {
	name   string
	events chan stats.Event
}

type Runner struct {
	cfg    config.Config
	run    *report.Run
	logger *slog.Logger
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	subscribers []subscriber
	statsWG     sync.WaitGroup
	closeOnce   sync.Once

	errMu sync.Mutex
	err   error
}

func New(ctx context.Context, cfg config.Config, run *report.Run, logger *slog.Logger) (*Runner, error) {
	if run == nil {
		return nil, fmt.Errorf("run context is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		cfg:    cfg,
		run:    run,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// SetHTTPClient replaces the client used for downloads.
func (r *Runner) SetHTTPClient(client *http.Client) {
	r.client = client
}

// SubscribeStats registers fn to receive every event of the run. Each
// subscriber gets its own copy of the stream.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	events := make(chan stats.Event, 128)
	r.subscribers = append(r.subscribers, subscriber{name: name, events: events})

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
		// keep EmitEvent from blocking on a subscriber that gave up
		for range events {
		}
	}()
}

func (r *Runner) EmitEvent(evt stats.Event) {
	for _, sub := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

// Run executes load, extract, filter, fetch and aggregate in order. It
// returns an error only for whole-run failures: an unreadable message or
// nothing to aggregate.
func (r *Runner) Run() (Outcome, error) {
	started := time.Now()
	defer r.finish()

	out, err := r.pipeline()
	out.Status = status(out, err)
	r.writeManifest(out, err)

	duration := time.Since(started)
	if err != nil {
		r.logger.Error("run failed", "dir", r.run.Dir, "duration", duration, "err", err)
		return out, err
	}

	r.logger.Info("run completed", "dir", r.run.Dir, "status", out.Status, "combined", r.run.CombinedPath, "duration", duration)
	return out, nil
}

func (r *Runner) pipeline() (Outcome, error) {
	var out Outcome
	r.logger.Info("run started", "id", r.run.ID, "label", r.run.Label, "dir", r.run.Dir, "email", r.cfg.EmailPath)

	msg, err := eml.Load(r.cfg.EmailPath)
	if err != nil {
		r.logger.Error("message load failed", "path", r.cfg.EmailPath, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageLoad, Type: stats.EventTypeError, Err: err})
		return out, err
	}
	out.Message = msg
	r.logger.Info("message loaded", "path", msg.Path, "subject", msg.Subject, "from", msg.From, "parts", len(msg.Parts), "bytes", msg.Size)
	if msg.Skipped > 0 {
		r.logger.Warn("mbox file holds more messages, only the first is used", "ignored", msg.Skipped)
	}
	r.EmitEvent(stats.Event{Stage: stats.StageLoad, Type: stats.EventTypeLoaded, Path: msg.Path})

	out.Links = links.Extract(msg.Body)
	for i, link := range out.Links {
		r.logger.Info("link extracted", "index", i+1, "url", link)
		r.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeLinkFound, URL: link})
	}
	if len(out.Links) == 0 {
		r.logger.Warn("extraction empty", "err", links.ErrNoLinks)
	} else {
		r.logger.Info("extraction finished", "links", len(out.Links))
	}

	f, err := filter.New(filter.Options{Include: r.cfg.IncludeURL, Exclude: r.cfg.ExcludeURL})
	if err != nil {
		r.logger.Error("link filter invalid", "err", err)
		return out, err
	}
	kept := out.Links
	if f.Active() {
		include, exclude := f.Patterns()
		r.logger.Info("link filter active", "include", include, "exclude", exclude)
		kept, out.Dropped = f.Apply(out.Links)
		for _, link := range out.Dropped {
			r.logger.Info("link filtered out", "url", link)
			r.EmitEvent(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeLinkDropped, URL: link})
		}
	}

	fetcher, err := fetch.New(fetch.Options{
		Dir:         r.run.RawDir,
		Timeout:     r.cfg.Timeout,
		MaxAttempts: r.cfg.MaxAttempts,
		Backoff:     r.cfg.Backoff,
		MaxBackoff:  r.cfg.MaxBackoff,
		Workers:     r.cfg.Workers,
		UserAgent:   r.cfg.UserAgent,
		Client:      r.client,
		Events:      r.EmitEvent,
	}, r.logger.With("component", "fetch"))
	if err != nil {
		r.logger.Error("fetcher setup failed", "err", err)
		return out, err
	}

	out.Downloads = fetcher.Fetch(r.ctx, kept)

	var files []string
	for _, d := range out.Downloads {
		if d.Success {
			files = append(files, d.Path)
			continue
		}
		r.logger.Warn("excluded from aggregation", "url", d.URL, "err", d.ErrorText())
	}
	r.logger.Info("downloads finished", "requested", len(kept), "succeeded", len(files), "failed", len(out.Downloads)-len(files))

	agg := aggregate.New(r.logger.With("component", "aggregate"), r.EmitEvent)
	table, aggReport, err := agg.Combine(files)
	out.Report = aggReport
	if err != nil {
		return out, err
	}
	out.Table = table

	if err := aggregate.WriteFile(r.run.CombinedPath, table); err != nil {
		err = fmt.Errorf("write %s: %w", r.run.CombinedPath, err)
		r.logger.Error("combined file not written", "err", err)
		return out, err
	}
	r.logger.Info("combined file written", "path", r.run.CombinedPath, "rows", len(table.Rows), "columns", len(table.Header))

	return out, nil
}

func status(out Outcome, err error) report.Status {
	if err != nil {
		return report.StatusFailed
	}
	if len(out.Succeeded()) < len(out.Downloads) || out.Report.Skipped > 0 {
		return report.StatusPartial
	}
	return report.StatusSucceeded
}

func (r *Runner) writeManifest(out Outcome, runErr error) {
	m := report.Manifest{
		ID:       r.run.ID,
		Label:    r.run.Label,
		Message:  r.cfg.EmailPath,
		Subject:  out.Message.Subject,
		Started:  r.run.Started,
		Finished: time.Now(),
		Status:   out.Status,
		Links:    out.Links,
		Dropped:  out.Dropped,
	}
	if m.Links == nil {
		m.Links = []string{}
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}

	m.Downloads = make([]report.DownloadEntry, 0, len(out.Downloads))
	for _, d := range out.Downloads {
		entry := report.DownloadEntry{
			URL:        d.URL,
			Success:    d.Success,
			File:       r.run.Rel(d.Path),
			Attempts:   d.Attempts,
			StatusCode: d.StatusCode,
			Bytes:      d.Bytes,
			Error:      d.ErrorText(),
		}
		for _, delay := range d.Delays {
			entry.Delays = append(entry.Delays, delay.String())
		}
		m.Downloads = append(m.Downloads, entry)
	}

	if out.Table != nil {
		agg := &report.Aggregation{
			Output:  r.run.Rel(r.run.CombinedPath),
			Files:   out.Report.Added,
			Rows:    len(out.Table.Rows),
			Columns: out.Table.Header,
		}
		for _, f := range out.Report.Files {
			if f.Skipped {
				agg.Skipped = append(agg.Skipped, r.run.Rel(f.Path))
			}
		}
		m.Aggregation = agg
	}

	if err := r.run.WriteManifest(m); err != nil {
		r.logger.Warn("manifest not written", "err", err)
	}
}

// finish closes every subscriber stream and waits for them to drain.
func (r *Runner) finish() {
	r.closeOnce.Do(func() {
		for _, sub := range r.subscribers {
			close(sub.events)
		}
	})
	r.statsWG.Wait()
	r.cancel()
}

// Err returns the first error reported by a stats subscriber.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}
