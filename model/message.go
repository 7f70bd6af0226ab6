package model

import "time"

// Message represents the single email message a run reads its links from.
type Message struct {
	Path    string
	Subject string
	From    string
	Date    time.Time
	Size    int64
	Parts   []Part
	Body    string
	// Skipped counts messages that followed the first one in an mbox-wrapped file.
	Skipped int
}

// Part is one decoded textual body part of a message.
type Part struct {
	ContentType string
	Text        string
}
