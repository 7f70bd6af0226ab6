package model

import "time"

// DownloadState is the lifecycle position of a single URL fetch.
type DownloadState string

const (
	DownloadPending    DownloadState = "pending"
	DownloadAttempting DownloadState = "attempting"
	DownloadRetrying   DownloadState = "retrying"
	DownloadSucceeded  DownloadState = "succeeded"
	DownloadFailed     DownloadState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s DownloadState) Terminal() bool {
	return s == DownloadSucceeded || s == DownloadFailed
}

// DownloadResult is the outcome of fetching one URL.
type DownloadResult struct {
	URL        string
	Success    bool
	State      DownloadState
	Path       string
	Err        error
	Attempts   int
	Delays     []time.Duration
	StatusCode int
	Bytes      int64
	Duration   time.Duration
}

// ErrorText returns the failure description, or "" for successful downloads.
func (r DownloadResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
