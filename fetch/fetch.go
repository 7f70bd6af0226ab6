// Package fetch downloads CSV links with per-attempt timeouts and bounded
// retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/eml-to-csv/model"
	"github.com/dhcgn/eml-to-csv/state"
	"github.com/dhcgn/eml-to-csv/stats"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultUserAgent   = "eml-to-csv/1.0"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "HTTP " + e.Status
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// DownloadError is the final error for a URL whose attempts were exhausted.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

type Options struct {
	Dir         string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Workers     int
	UserAgent   string
	Client      *http.Client
	Events      func(stats.Event)
}

type Fetcher struct {
	opts    Options
	backoff Backoff
	client  *http.Client
	names   state.Tracker
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

func New(opts Options, logger *slog.Logger) (*Fetcher, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("download directory is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff < 0 {
		return nil, fmt.Errorf("backoff must not be negative")
	}
	if opts.MaxBackoff > 0 && opts.MaxBackoff < opts.Backoff {
		return nil, fmt.Errorf("max backoff %s is shorter than backoff %s", opts.MaxBackoff, opts.Backoff)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	names, err := state.NewFileTracker(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("download directory: %w", err)
	}

	logger.Debug("fetcher ready", "dir", names.Dir(), "workers", opts.Workers, "maxAttempts", opts.MaxAttempts, "timeout", opts.Timeout)

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Fetcher{
		opts:    opts,
		backoff: Backoff{Base: opts.Backoff, Max: opts.MaxBackoff},
		client:  client,
		names:   names,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Fetch downloads every URL and returns one result per URL in input order.
// A failing URL never stops the others.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) []model.DownloadResult {
	results := make([]model.DownloadResult, len(urls))
	dests := make([]string, len(urls))

	// names are claimed up front so collisions resolve in link order
	for i, rawURL := range urls {
		dest, err := f.names.Claim(NameFromURL(rawURL, i+1))
		if err != nil {
			results[i] = model.DownloadResult{URL: rawURL, State: model.DownloadFailed, Err: fmt.Errorf("claim file name: %w", err)}
			f.logger.Error("download skipped", "url", rawURL, "err", results[i].Err)
			f.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFailed, URL: rawURL, Err: results[i].Err})
			continue
		}
		dests[i] = dest
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := f.opts.Workers
	if workers > len(urls) {
		workers = len(urls)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = f.fetchOne(ctx, urls[i], dests[i])
			}
		}()
	}

	for i := range urls {
		if dests[i] == "" {
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// fetchOne drives a single URL through its download lifecycle.
func (f *Fetcher) fetchOne(ctx context.Context, rawURL, dest string) model.DownloadResult {
	logger := f.logger.With("url", rawURL)
	started := time.Now()

	result := model.DownloadResult{URL: rawURL, State: model.DownloadPending}
	var lastErr error

	move := func(to model.DownloadState) bool {
		if err := transition(result.State, to); err != nil {
			lastErr = err
			result.State = model.DownloadFailed
			return false
		}
		result.State = to
		return true
	}

	move(model.DownloadAttempting)
	for !result.State.Terminal() {
		switch result.State {
		case model.DownloadAttempting:
			result.Attempts++
			logger.Info("download attempt", "attempt", result.Attempts, "maxAttempts", f.opts.MaxAttempts)
			f.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeAttempt, URL: rawURL, Attempt: result.Attempts})

			code, n, err := f.attempt(ctx, rawURL, dest)
			result.StatusCode = code
			if err == nil {
				result.Path = dest
				result.Bytes = n
				move(model.DownloadSucceeded)
				continue
			}

			lastErr = err
			logger.Warn("download attempt failed", "attempt", result.Attempts, "err", err)
			if result.Attempts >= f.opts.MaxAttempts || ctx.Err() != nil {
				move(model.DownloadFailed)
				continue
			}
			move(model.DownloadRetrying)

		case model.DownloadRetrying:
			delay := f.backoff.Delay(result.Attempts)
			result.Delays = append(result.Delays, delay)
			logger.Info("retrying download", "attempt", result.Attempts, "delay", delay)
			f.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeRetry, URL: rawURL, Attempt: result.Attempts, Detail: delay.String()})

			if err := f.sleep(ctx, delay); err != nil {
				lastErr = errors.Join(lastErr, err)
				move(model.DownloadFailed)
				continue
			}
			move(model.DownloadAttempting)

		default:
			lastErr = fmt.Errorf("unexpected download state %s", result.State)
			result.State = model.DownloadFailed
		}
	}

	result.Duration = time.Since(started)

	if result.State == model.DownloadSucceeded {
		result.Success = true
		logger.Info("download succeeded", "path", dest, "bytes", result.Bytes, "attempts", result.Attempts, "duration", result.Duration)
		f.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeDownloaded, URL: rawURL, Path: dest, Attempt: result.Attempts})
		return result
	}

	result.Err = &DownloadError{URL: rawURL, Attempts: result.Attempts, Err: lastErr}
	logger.Error("download failed", "attempts", result.Attempts, "err", lastErr)
	f.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFailed, URL: rawURL, Attempt: result.Attempts, Err: result.Err})
	return result
}

// attempt performs one GET under its own timeout and stores a 2xx body at dest.
func (f *Fetcher) attempt(ctx context.Context, rawURL, dest string) (int, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, RequestURL(rawURL), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, 0, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return resp.StatusCode, 0, err
	}
	return resp.StatusCode, n, nil
}

// RequestURL undoes the HTML escaping links carry when lifted out of markup.
func RequestURL(rawURL string) string {
	if !strings.Contains(rawURL, "&") {
		return rawURL
	}
	return html.UnescapeString(rawURL)
}

// writeFile streams body into dest via a temporary sibling so a partial
// download never shows up under the final name.
func writeFile(dest string, body io.Reader) (int64, error) {
	tmp := dest + ".part"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr != nil {
			return 0, fmt.Errorf("read body: %w", copyErr)
		}
		return 0, fmt.Errorf("close %s: %w", tmp, closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}

func (f *Fetcher) emit(evt stats.Event) {
	if f.opts.Events != nil {
		f.opts.Events(evt)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
