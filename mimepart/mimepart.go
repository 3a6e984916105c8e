// Package mimepart walks the MIME tree of a message, routes every part by
// its content type and selects the message's text.
package mimepart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"

	"github.com/dhcgn/mailbox-export/decode"
	"github.com/dhcgn/mailbox-export/htmltext"
	"github.com/dhcgn/mailbox-export/model"
)

var ErrUnreadable = errors.New("message unreadable")

// Persister stores the HTML dump and the attachments of a message and
// returns the location written.
type Persister interface {
	SaveHTML(loc string, payload []byte) (string, error)
	SaveAttachment(loc string, seq int, ext string, payload []byte) (string, error)
}

// Result is the outcome of classifying one message.
type Result struct {
	Header      message.Header
	Text        string
	HTMLPath    string
	Attachments []model.Attachment
}

type Classifier struct {
	store  Persister
	logger *slog.Logger
}

func New(store Persister, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{store: store, logger: logger}
}

// Classify parses raw, persists its HTML and attachment parts under loc and
// selects the text. A failure inside a nested part is returned alongside
// everything gathered before it.
func (c *Classifier) Classify(raw []byte, loc string) (Result, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	res := Result{Header: entity.Header}

	mediaType, params := contentType(entity.Header)
	if !strings.HasPrefix(mediaType, "multipart/") {
		payload, readErr := io.ReadAll(entity.Body)
		res.Text = decode.Decode(payload, payloadCharset(params["charset"], err))
		if readErr != nil {
			return res, fmt.Errorf("read body: %w", readErr)
		}
		return res, nil
	}

	w := &walk{classifier: c, loc: loc, best: -1}
	walkErr := entity.Walk(w.visit)

	res.Text = w.text
	res.HTMLPath = w.htmlPath
	res.Attachments = w.attachments

	if res.Text == "" && w.html != nil {
		text, err := htmltext.ToText(decode.Decode(w.html, w.htmlCharset))
		if err != nil {
			c.logger.Warn("html fallback failed", "loc", loc, "err", err)
		} else {
			res.Text = text
		}
	}

	if walkErr != nil {
		return res, fmt.Errorf("walk parts: %w", walkErr)
	}
	return res, nil
}

type walk struct {
	classifier *Classifier
	loc        string

	text string
	best int

	html        []byte
	htmlCharset string
	htmlPath    string

	attachments []model.Attachment
}

func (w *walk) visit(path []int, part *message.Entity, partErr error) error {
	if partErr != nil && !message.IsUnknownCharset(partErr) && !message.IsUnknownEncoding(partErr) {
		return partErr
	}

	mediaType, params := contentType(part.Header)
	if mediaType == "message/rfc822" {
		return w.forwarded(path, part)
	}
	kind, ext := Classify(mediaType, filename(part.Header, params))
	if kind == Ignored {
		return nil
	}

	payload, err := io.ReadAll(part.Body)
	if err != nil {
		return fmt.Errorf("read part %v: %w", path, err)
	}
	charset := payloadCharset(params["charset"], partErr)
	logger := w.classifier.logger

	switch kind {
	case PlainText:
		text := decode.Decode(payload, charset)
		if n := utf8.RuneCountInString(text); n > w.best {
			w.best = n
			w.text = text
		}
	case HTML:
		w.html = payload
		w.htmlCharset = charset
		p, err := w.classifier.store.SaveHTML(w.loc, payload)
		if err != nil {
			logger.Warn("html dump not written", "loc", w.loc, "err", err)
			return nil
		}
		w.htmlPath = p
	default:
		seq := len(w.attachments) + 1
		p, err := w.classifier.store.SaveAttachment(w.loc, seq, ext, payload)
		if err != nil {
			logger.Warn("attachment not written", "loc", w.loc, "seq", seq, "kind", kind, "err", err)
			return nil
		}
		w.attachments = append(w.attachments, model.Attachment{Seq: seq, ContentType: mediaType, Path: p})
	}
	return nil
}

// forwarded walks an attached message with the same state, so its parts
// compete with the outer ones for the text and share the attachment
// sequence. An attached message that cannot be parsed is skipped.
func (w *walk) forwarded(path []int, part *message.Entity) error {
	payload, err := io.ReadAll(part.Body)
	if err != nil {
		return fmt.Errorf("read part %v: %w", path, err)
	}
	inner, err := message.Read(bytes.NewReader(payload))
	if inner == nil {
		w.classifier.logger.Warn("forwarded message unreadable", "loc", w.loc, "part", path, "err", err)
		return nil
	}
	if inner.MultipartReader() == nil {
		return w.visit(path, inner, err)
	}
	return inner.Walk(w.visit)
}

// payloadCharset returns the charset a part body is encoded in. go-message
// converts text parts to UTF-8 itself whenever a CharsetReader is registered
// and the charset is known to it.
func payloadCharset(declared string, partErr error) string {
	if declared == "" || message.CharsetReader == nil || message.IsUnknownCharset(partErr) {
		return declared
	}
	return "utf-8"
}

func contentType(h message.Header) (string, map[string]string) {
	raw := strings.TrimSpace(h.Get("Content-Type"))
	if raw == "" {
		return "text/plain", map[string]string{}
	}
	mediaType, params, _ := mime.ParseMediaType(raw)
	if mediaType == "" {
		mediaType, _, _ = strings.Cut(raw, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	}
	if params == nil {
		params = map[string]string{}
	}
	return mediaType, params
}

func filename(h message.Header, params map[string]string) string {
	if _, dparams, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
		if name := dparams["filename"]; name != "" {
			return name
		}
	}
	return params["name"]
}
