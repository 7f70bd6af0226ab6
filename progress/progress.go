package progress

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/eml-to-csv/stats"
)

const maxTitle = 48

// Bar shows download progress. The total is learned from the extract and
// filter events, so the bar starts with the first download attempt.
type Bar struct {
	mu      sync.Mutex
	pb      *pterm.ProgressbarPrinter
	writer  io.Writer
	enabled bool

	links    int
	dropped  int
	started  map[string]bool
	finished int
	failed   int
}

// New returns a bar that renders to w (stdout when nil). A disabled bar
// only counts.
func New(enabled bool, w io.Writer) *Bar {
	if w == nil {
		w = os.Stdout
	}
	return &Bar{
		writer:  w,
		enabled: enabled,
		started: make(map[string]bool),
	}
}

// Total is the number of links that will be downloaded.
func (b *Bar) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total()
}

func (b *Bar) total() int {
	return b.links - b.dropped
}

// Done returns finished and failed download counts.
func (b *Bar) Done() (finished, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished, b.failed
}

func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeLinkFound:
		b.links++
	case stats.EventTypeLinkDropped:
		b.dropped++
	case stats.EventTypeAttempt:
		if b.started[evt.URL] {
			return
		}
		b.started[evt.URL] = true
		b.start()
		if b.pb != nil {
			b.pb.UpdateTitle(title(evt.URL))
		}
	case stats.EventTypeDownloaded:
		b.finished++
		b.increment()
	case stats.EventTypeFailed:
		b.finished++
		b.failed++
		b.increment()
		if b.enabled && evt.Err != nil {
			pterm.Error.WithWriter(b.writer).Printf("%s: %v\n", evt.URL, evt.Err)
		}
	}
}

func (b *Bar) start() {
	if !b.enabled || b.pb != nil || b.total() <= 0 {
		return
	}
	pb, err := pterm.DefaultProgressbar.
		WithTotal(b.total()).
		WithTitle("Downloading").
		WithWriter(b.writer).
		Start()
	if err != nil {
		b.enabled = false
		return
	}
	b.pb = pb
}

func (b *Bar) increment() {
	if b.pb != nil {
		b.pb.Increment()
	}
}

// Stop finalizes the bar and prints a one-line result.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	_, _ = b.pb.Stop()
	b.pb = nil

	if b.failed > 0 {
		pterm.Warning.WithWriter(b.writer).Printf("%d of %d downloads failed\n", b.failed, b.finished)
		return
	}
	pterm.Success.WithWriter(b.writer).Printf("%d downloads complete\n", b.finished)
}

// Subscriber feeds the bar from a runner event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Attach subscribes the bar to stream when it is enabled.
func (b *Bar) Attach(stream stats.EventStream) {
	if b.enabled {
		stream.SubscribeStats("progress-bar", b.Subscriber)
	}
}

func title(url string) string {
	if len(url) <= maxTitle {
		return url
	}
	return "..." + url[len(url)-maxTitle+3:]
}
