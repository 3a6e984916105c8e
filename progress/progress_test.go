package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/stats"
)

func TestMain(m *testing.M) {
	pterm.DisableOutput()
	m.Run()
}

func events(evts ...stats.Event) <-chan stats.Event {
	ch := make(chan stats.Event, len(evts))
	for _, evt := range evts {
		ch <- evt
	}
	close(ch)
	return ch
}

func TestBar_TotalGrowsWithListing(t *testing.T) {
	bar := New("info", true)
	require.True(t, bar.Enabled())

	err := bar.Subscriber(context.Background(), events(
		stats.Event{Stage: stats.StageSource, Type: stats.EventTypeListed, Folder: "INBOX", Count: 2},
		stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFetched, Folder: "INBOX"},
		stats.Event{Stage: stats.StageExport, Type: stats.EventTypeExported, Folder: "INBOX"},
		stats.Event{Stage: stats.StageSource, Type: stats.EventTypeListed, Folder: "Empty", Count: 0},
		stats.Event{Stage: stats.StageSource, Type: stats.EventTypeListed, Folder: "Sent", Count: 3},
		stats.Event{Stage: stats.StageExport, Type: stats.EventTypeDuplicate, Folder: "INBOX"},
		stats.Event{Stage: stats.StageExport, Type: stats.EventTypeError, Folder: "Sent", Err: errors.New("timeout")},
	))
	require.NoError(t, err)

	done, total := bar.Counts()
	assert.Equal(t, 3, done)
	assert.Equal(t, 5, total)
}

func TestBar_DisabledOutsideInfo(t *testing.T) {
	bar := New("debug", true)
	assert.False(t, bar.Enabled())

	bar.Update(stats.Event{Type: stats.EventTypeListed, Count: 1})
	bar.Update(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeExported})
	bar.Stop()

	done, total := bar.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, total)
}

type fakeStream struct {
	names []string
}

func (f *fakeStream) SubscribeStats(name string, _ func(context.Context, <-chan stats.Event) error) {
	f.names = append(f.names, name)
}

func TestNewReporter(t *testing.T) {
	stream := &fakeStream{}
	assert.Nil(t, NewReporter(stream, New("info", false), nil))
	assert.Empty(t, stream.names)

	assert.NotNil(t, NewReporter(stream, New("info", true), nil))
	assert.Equal(t, []string{"progress-bar", "progress-summary"}, stream.names)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "INBOX", truncate("INBOX", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestFolderTable(t *testing.T) {
	c := stats.NewCollector()
	c.Add(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeListed, Folder: "INBOX", Count: 2})
	c.Add(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeExported, Folder: "INBOX"})
	c.Add(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeDuplicate, Folder: "INBOX"})
	c.Add(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeListed, Folder: "Sent", Count: 0})

	table := folderTable(c.Snapshot())
	require.Len(t, table.Data, 3)
	assert.Equal(t, []string{"INBOX", "2", "1", "0", "1", "0"}, table.Data[1])
	assert.Equal(t, "Sent", table.Data[2][0])
}
