package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhcgn/mailbox-export/model"
)

const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"

	// BaseName is the file name, without extension, of the exported table.
	BaseName = "emailData"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Sink stores finished records. Values are written as they are; no sink
// reinterprets the strings it receives.
type Sink interface {
	Write(ctx context.Context, folder string, records []model.Record) error
	Close() error
}

// Open creates the sink for format inside dir.
func Open(format, dir, runID string) (Sink, error) {
	switch format {
	case FormatCSV:
		return wrap(NewCSV(dir))
	case FormatSQLite:
		return wrap(NewSQLite(dir, runID))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func wrap[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
