package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dhcgn/mailbox-export/model"
)

var ErrKeyIncomplete = errors.New("deduplication key incomplete")

// Snapshot reports the size of an Index.
type Snapshot struct {
	Keys int
}

// Index remembers the deduplication keys seen during one run. It is never
// persisted.
type Index struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewIndex() *Index {
	return &Index{seen: make(map[string]struct{})}
}

// IsDuplicate reports whether key was seen before and records it otherwise.
// The empty key is never a duplicate.
func (i *Index) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[key]; ok {
		return true
	}
	i.seen[key] = struct{}{}
	return false
}

func (i *Index) Snapshot() Snapshot {
	i.mu.Lock()
	count := len(i.seen)
	i.mu.Unlock()
	return Snapshot{Keys: count}
}

// Key builds the deduplication key of a message: sender, recipients,
// subject, date and time concatenated without separators.
func Key(h model.Header) (string, error) {
	if len(h.Missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrKeyIncomplete, strings.Join(h.Missing, ", "))
	}
	return h.Sender + h.Recipients + h.Subject + h.Date + h.Time, nil
}
