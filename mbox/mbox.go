package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mailbox-export/model"
)

var (
	ErrNoPaths         = errors.New("no mbox files configured")
	ErrUnknownFolder   = errors.New("unknown mbox folder")
	ErrMessageNotFound = errors.New("mbox message not found")
)

type Options struct {
	Paths []string
}

// Source exposes mbox files as folders. Each file is read in full on List;
// a message is released once it has been fetched.
type Source struct {
	logger  *slog.Logger
	folders []string
	paths   map[string]string

	mu       sync.Mutex
	messages map[string][][]byte
}

func New(opts Options, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		logger:   logger,
		paths:    make(map[string]string),
		messages: make(map[string][][]byte),
	}
	for _, path := range opts.Paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		name := FolderName(path)
		for i := 2; s.paths[name] != ""; i++ {
			name = FolderName(path) + "-" + strconv.Itoa(i)
		}
		s.paths[name] = path
		s.folders = append(s.folders, name)
	}
	if len(s.folders) == 0 {
		return nil, ErrNoPaths
	}
	return s, nil
}

// FolderName derives a folder name from an mbox path: the file name
// without its .mbox extension.
func FolderName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".mbox") {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func (s *Source) Folders(context.Context) ([]string, error) {
	return append([]string(nil), s.folders...), nil
}

// List reads the file behind folder and returns 1-based ordinals.
func (s *Source) List(ctx context.Context, folder string) ([]string, error) {
	path, ok := s.paths[folder]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	var raws [][]byte
	err = Scan(ctx, file, func(idx int, raw []byte) error {
		raws = append(raws, raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	s.mu.Lock()
	s.messages[folder] = raws
	s.mu.Unlock()

	s.logger.Debug("mbox loaded", "path", path, "folder", folder, "messages", len(raws))

	ids := make([]string, len(raws))
	for i := range raws {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids, nil
}

func (s *Source) Fetch(_ context.Context, folder, id string) (model.Message, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %s/%s", ErrMessageNotFound, folder, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raws := s.messages[folder]
	if n < 1 || n > len(raws) || raws[n-1] == nil {
		return model.Message{}, fmt.Errorf("%w: %s/%s", ErrMessageNotFound, folder, id)
	}
	raw := raws[n-1]
	raws[n-1] = nil

	return model.Message{
		ID:     id,
		Folder: folder,
		Size:   int64(len(raw)),
		Raw:    raw,
	}, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.messages = make(map[string][][]byte)
	s.mu.Unlock()
	return nil
}

// Scan calls fn with the raw bytes of every message in r, in file order.
func Scan(ctx context.Context, r io.Reader, fn func(idx int, raw []byte) error) error {
	reader := mboxlib.NewReader(r)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in an mbox file without keeping them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, fmt.Errorf("message %d read: %w", count, err)
		}
		count++
	}
}
