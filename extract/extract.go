// Package extract assembles export records from raw messages and decides
// which of them survive deduplication.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dhcgn/mailbox-export/header"
	"github.com/dhcgn/mailbox-export/htmltext"
	"github.com/dhcgn/mailbox-export/layout"
	"github.com/dhcgn/mailbox-export/mainbody"
	"github.com/dhcgn/mailbox-export/mimepart"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/state"
)

// Store persists message files for one folder and can take them back.
type Store interface {
	mimepart.Persister
	Remove(path string) error
}

// Candidate is an interpreted message waiting for its deduplication verdict.
type Candidate struct {
	Record model.Record
	Key    string
	KeyErr error

	store Store
}

type Assembler struct {
	index  *state.Index
	logger *slog.Logger
}

func New(index *state.Index, logger *slog.Logger) *Assembler {
	if index == nil {
		index = state.NewIndex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{index: index, logger: logger}
}

// Index returns the deduplication index of the run.
func (a *Assembler) Index() *state.Index {
	return a.index
}

// Interpret runs every per-message step that does not depend on other
// messages. It is safe for concurrent use.
func (a *Assembler) Interpret(msg model.Message, store Store) (Candidate, error) {
	loc := strconv.Itoa(msg.Ordinal)
	logger := a.logger.With("folder", msg.Folder, "id", msg.ID, "loc", loc)

	res, err := mimepart.New(store, logger).Classify(msg.Raw, loc)
	if errors.Is(err, mimepart.ErrUnreadable) {
		return Candidate{}, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	if err != nil {
		logger.Warn("message partially classified", "err", err)
	}

	text := htmltext.StripJunk(htmltext.Normalize(res.Text, logger))
	hdr := header.Interpret(res.Header)
	key, keyErr := state.Key(hdr)

	return Candidate{
		Record: model.Record{
			Folder:      folderLabel(msg.Folder, store),
			ID:          msg.Ordinal,
			Header:      hdr,
			Message:     text,
			MainBody:    mainbody.Extract(text),
			HTMLPath:    res.HTMLPath,
			Attachments: res.Attachments,
		},
		Key:    key,
		KeyErr: keyErr,
		store:  store,
	}, nil
}

// folderLabel names the record's folder after the directory its files went
// to, which can carry a suffix when two mailbox names clean alike.
func folderLabel(folder string, store Store) string {
	if f, ok := store.(*layout.Folder); ok && f != nil {
		return f.Label
	}
	return layout.CleanFolderName(folder)
}

// Admit applies deduplication to c. A duplicate's HTML dump is deleted;
// its attachments stay on disk. Candidates without a usable key are always
// admitted.
func (a *Assembler) Admit(c Candidate) (model.Record, bool) {
	if c.KeyErr != nil {
		a.logger.Debug("deduplication skipped", "folder", c.Record.Folder, "id", c.Record.ID, "err", c.KeyErr)
		return c.Record, true
	}
	if !a.index.IsDuplicate(c.Key) {
		return c.Record, true
	}
	if c.store != nil {
		if err := c.store.Remove(c.Record.HTMLPath); err != nil {
			a.logger.Warn("duplicate html dump not removed", "path", c.Record.HTMLPath, "err", err)
		}
	}
	return model.Record{}, false
}

// Assemble interprets and admits one message.
func (a *Assembler) Assemble(msg model.Message, store Store) (model.Record, bool, error) {
	c, err := a.Interpret(msg, store)
	if err != nil {
		return model.Record{}, false, err
	}
	rec, ok := a.Admit(c)
	return rec, ok, nil
}
