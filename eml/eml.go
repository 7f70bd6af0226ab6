// Package eml loads a single email message file and recovers its readable
// body text.
package eml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/eml-to-csv/model"
)

var (
	ErrEmptyFile = errors.New("message file is empty")
	ErrNoMessage = errors.New("mbox file holds no message")
)

// maxParts bounds the MIME walk so a hostile message cannot spin forever.
const maxParts = 512

// LoadError reports that the message file could not be turned into a Message.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load message %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load reads the message at path. Files that start with an mbox "From "
// envelope line are unwrapped and the first message is used.
func Load(path string) (model.Message, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return model.Message{}, &LoadError{Path: path, Err: errors.New("path is empty")}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Message{}, &LoadError{Path: path, Err: err}
	}

	msg, err := Parse(raw)
	if err != nil {
		return model.Message{}, &LoadError{Path: path, Err: err}
	}
	msg.Path = path
	return msg, nil
}

// Parse decodes a raw RFC 5322 message, or an mbox file whose first message
// is taken.
func Parse(raw []byte) (model.Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return model.Message{}, ErrEmptyFile
	}

	skipped := 0
	if isMbox(raw) {
		first, rest, err := unwrapMbox(raw)
		if err != nil {
			return model.Message{}, err
		}
		raw = first
		skipped = rest
	}

	msg, err := parseMail(raw)
	if err != nil {
		return model.Message{}, err
	}
	msg.Size = int64(len(raw))
	msg.Skipped = skipped
	return msg, nil
}

func isMbox(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("From "))
}

func unwrapMbox(raw []byte) (first []byte, skipped int, err error) {
	reader := mboxlib.NewReader(bytes.NewReader(raw))

	msgReader, err := reader.NextMessage()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, ErrNoMessage
		}
		return nil, 0, fmt.Errorf("mbox: %w", err)
	}
	first, err = io.ReadAll(msgReader)
	if err != nil {
		return nil, 0, fmt.Errorf("mbox read: %w", err)
	}

	for {
		next, err := reader.NextMessage()
		if err != nil {
			// a damaged tail does not invalidate the first message
			break
		}
		if _, err := io.Copy(io.Discard, next); err != nil {
			break
		}
		skipped++
	}

	return first, skipped, nil
}

func parseMail(raw []byte) (model.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return model.Message{}, fmt.Errorf("parse header: %w", err)
	}
	if mr == nil {
		return model.Message{}, fmt.Errorf("parse header: %w", err)
	}
	defer mr.Close()

	var msg model.Message
	msg.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}

	for i := 0; i < maxParts; i++ {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !tolerable(err) {
			return model.Message{}, fmt.Errorf("part %d: %w", i, err)
		}
		if p == nil {
			continue
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			contentType = fallbackContentType(h.Get("Content-Type"))
		}
		if !isText(contentType) {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil && !tolerable(err) {
			return model.Message{}, fmt.Errorf("part %d body: %w", i, err)
		}
		msg.Parts = append(msg.Parts, model.Part{ContentType: contentType, Text: string(body)})
	}

	texts := make([]string, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		texts = append(texts, part.Text)
	}
	msg.Body = strings.Join(texts, "\n")

	return msg, nil
}

// tolerable marks decoding problems that still leave readable bytes behind.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func isText(contentType string) bool {
	// parts without a Content-Type default to text/plain
	return contentType == "" || strings.HasPrefix(strings.ToLower(contentType), "text/")
}

func fallbackContentType(value string) string {
	if value == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(value); err == nil {
		return mediaType
	}
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
