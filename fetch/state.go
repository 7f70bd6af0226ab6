package fetch

import (
	"fmt"

	"github.com/dhcgn/eml-to-csv/model"
)

// transition validates a single step of the per-URL download lifecycle:
//
//	pending -> attempting -> succeeded
//	                      -> retrying -> attempting
//	                      -> failed
//
// A retrying download may also fail when the run is cancelled mid-backoff.
func transition(from, to model.DownloadState) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed download transition: %s -> %s", from, to)
	}
	return nil
}

func isAllowedTransition(from, to model.DownloadState) bool {
	switch from {
	case model.DownloadPending:
		return to == model.DownloadAttempting
	case model.DownloadAttempting:
		return to == model.DownloadSucceeded || to == model.DownloadRetrying || to == model.DownloadFailed
	case model.DownloadRetrying:
		return to == model.DownloadAttempting || to == model.DownloadFailed
	default:
		return false
	}
}
