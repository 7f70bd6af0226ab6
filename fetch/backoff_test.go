package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/eml-to-csv/model"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 5 * time.Second}

	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, b.Delay(attempt), "attempt %d", attempt)
	}
}

func TestBackoffNeverDecreases(t *testing.T) {
	for _, b := range []Backoff{
		{Base: time.Millisecond, Max: 0},
		{Base: 2 * time.Second, Max: 30 * time.Second},
		{Base: time.Hour, Max: time.Hour},
		{Base: 0, Max: time.Second},
	} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 80; attempt++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "backoff %+v attempt %d", b, attempt)
			if b.Max > 0 {
				assert.LessOrEqual(t, d, b.Max)
			}
			prev = d
		}
	}
}

func TestTransitions(t *testing.T) {
	allowed := [][2]model.DownloadState{
		{model.DownloadPending, model.DownloadAttempting},
		{model.DownloadAttempting, model.DownloadSucceeded},
		{model.DownloadAttempting, model.DownloadRetrying},
		{model.DownloadAttempting, model.DownloadFailed},
		{model.DownloadRetrying, model.DownloadAttempting},
		{model.DownloadRetrying, model.DownloadFailed},
	}
	for _, tr := range allowed {
		assert.NoError(t, transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	disallowed := [][2]model.DownloadState{
		{model.DownloadPending, model.DownloadSucceeded},
		{model.DownloadRetrying, model.DownloadSucceeded},
		{model.DownloadSucceeded, model.DownloadAttempting},
		{model.DownloadFailed, model.DownloadRetrying},
	}
	for _, tr := range disallowed {
		assert.Error(t, transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://example.com/exports/july.csv", want: "july.csv"},
		{url: "https://example.com/exports/july.csv?token=abc", want: "july.csv"},
		{url: "https://example.com/Caf%C3%A9%20Sales.CSV", want: "Cafe_Sales.CSV"},
		{url: "https://example.com/.csv", want: "download_7.csv"},
		{url: "https://example.com/", want: "download_7.csv"},
		{url: "https://example.com/a%2F..%2Fb.csv", want: "b.csv"},
		{url: "://bad", want: "download_7.csv"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NameFromURL(tt.url, 7), tt.url)
	}
}
