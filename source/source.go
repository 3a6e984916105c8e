package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mailbox-export/gmail"
	"github.com/dhcgn/mailbox-export/imap"
	"github.com/dhcgn/mailbox-export/mbox"
	"github.com/dhcgn/mailbox-export/model"
)

const (
	KindIMAP  = "imap"
	KindMbox  = "mbox"
	KindGmail = "gmail"
)

var ErrUnknownKind = errors.New("unknown source kind")

// Source is a mail store the exporter reads from.
type Source interface {
	Folders(ctx context.Context) ([]string, error)
	List(ctx context.Context, folder string) ([]string, error)
	Fetch(ctx context.Context, folder, id string) (model.Message, error)
	Close() error
}

type Options struct {
	Kind  string
	IMAP  imap.Options
	Mbox  mbox.Options
	Gmail gmail.Options
}

var (
	_ Source = (*imap.Source)(nil)
	_ Source = (*mbox.Source)(nil)
	_ Source = (*gmail.Source)(nil)
)

func Open(ctx context.Context, opts Options, logger *slog.Logger) (Source, error) {
	var (
		src Source
		err error
	)
	switch opts.Kind {
	case KindIMAP:
		src, err = wrap(imap.New(opts.IMAP, logger))
	case KindMbox:
		src, err = wrap(mbox.New(opts.Mbox, logger))
	case KindGmail:
		src, err = wrap(gmail.New(ctx, opts.Gmail, logger))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s source: %w", opts.Kind, err)
	}
	return src, nil
}

func wrap[S Source](src S, err error) (Source, error) {
	if err != nil {
		return nil, err
	}
	return src, nil
}
