package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/model"
)

func TestIndex_IsDuplicate(t *testing.T) {
	index := NewIndex()

	assert.False(t, index.IsDuplicate("a"))
	assert.True(t, index.IsDuplicate("a"))
	assert.False(t, index.IsDuplicate("b"))
	assert.False(t, index.IsDuplicate(""))
	assert.False(t, index.IsDuplicate(""))
	assert.Equal(t, Snapshot{Keys: 2}, index.Snapshot())
}

func TestIndex_ConcurrentFirstWins(t *testing.T) {
	index := NewIndex()
	const workers = 32

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !index.IsDuplicate("same") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
}

func TestKey(t *testing.T) {
	base := model.Header{
		Sender:     "a@example.com",
		Recipients: "b@example.com",
		Subject:    "Hi",
		Date:       "3 Jan 2022",
		Time:       "10:15:00",
		Zone:       "UTC",
	}

	key, err := Key(base)
	require.NoError(t, err)
	assert.Equal(t, "a@example.comb@example.comHi3 Jan 202210:15:00", key)

	zone := base
	zone.Zone = "EST"
	zoneKey, err := Key(zone)
	require.NoError(t, err)
	assert.Equal(t, key, zoneKey, "timezone is not part of the key")

	variants := map[string]func(h *model.Header){
		"sender":     func(h *model.Header) { h.Sender = "x@example.com" },
		"recipients": func(h *model.Header) { h.Recipients = "x@example.com" },
		"subject":    func(h *model.Header) { h.Subject = "Re: Hi" },
		"date":       func(h *model.Header) { h.Date = "4 Jan 2022" },
		"time":       func(h *model.Header) { h.Time = "10:15:01" },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			h := base
			mutate(&h)
			other, err := Key(h)
			require.NoError(t, err)
			assert.NotEqual(t, key, other)
		})
	}
}

func TestKey_Incomplete(t *testing.T) {
	_, err := Key(model.Header{Missing: []string{"To"}})
	assert.ErrorIs(t, err, ErrKeyIncomplete)
	assert.Contains(t, fmt.Sprint(err), "To")
}
