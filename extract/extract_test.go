package extract

import (
	_ "embed"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/layout"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/state"
)

//go:embed test_data/report.eml
var reportEML []byte

//go:embed test_data/html_only.eml
var htmlOnlyEML []byte

func newFolder(t *testing.T, name string) *layout.Folder {
	t.Helper()
	l, err := layout.Prepare(filepath.Join(t.TempDir(), "export"))
	require.NoError(t, err)
	f, err := l.Folder(name)
	require.NoError(t, err)
	return f
}

func TestAssemble_Report(t *testing.T) {
	folder := newFolder(t, "[Gmail]/Sent Mail")
	a := New(state.NewIndex(), nil)

	rec, ok, err := a.Assemble(model.Message{ID: "501", Folder: "[Gmail]/Sent Mail", Ordinal: 1, Raw: reportEML}, folder)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "Gmail-Sent-Mail", rec.Folder)
	assert.Equal(t, 1, rec.ID)
	assert.Equal(t, "jane@example.com", rec.Header.Sender)
	assert.Equal(t, "bob@example.com, carol@example.com", rec.Header.Recipients)
	assert.Equal(t, "Quarterly café report", rec.Header.Subject)
	assert.Equal(t, "3 Jan 2022", rec.Header.Date)
	assert.Equal(t, "10:15:00", rec.Header.Time)
	assert.Equal(t, "UTC", rec.Header.Zone)

	assert.NotContains(t, rec.Message, "|")
	assert.NotContains(t, rec.Message, "#")
	assert.NotContains(t, rec.Message, "[")
	assert.Contains(t, rec.Message, "> old question")

	assert.Equal(t, model.MainBody{
		Text:  "Numbers\nRevenue  10\nCosts  4\nSee the attached report.",
		Words: 9,
	}, rec.MainBody)

	assert.Equal(t, filepath.Join(folder.RawDir, "1.html"), rec.HTMLPath)
	assert.FileExists(t, rec.HTMLPath)
	require.Len(t, rec.Attachments, 1)
	assert.Equal(t, filepath.Join(folder.AttachmentDir, "1_1.pdf"), rec.Attachments[0].Path)
	assert.FileExists(t, rec.Attachments[0].Path)
}

func TestAssemble_HTMLOnly(t *testing.T) {
	folder := newFolder(t, "INBOX")
	rec, ok, err := New(nil, nil).Assemble(model.Message{ID: "1", Folder: "INBOX", Ordinal: 4, Raw: htmlOnlyEML}, folder)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Contains(t, rec.Message, "News")
	assert.Contains(t, rec.Message, "Café opens")
	assert.NotContains(t, rec.Message, "#")
	assert.NotContains(t, rec.Message, "|")
	assert.NotContains(t, rec.Message, "<p>")
	assert.Equal(t, filepath.Join(folder.RawDir, "4.html"), rec.HTMLPath)
	assert.Equal(t, "CET", rec.Header.Zone)
}

func TestAdmit_DuplicateDropsHTMLKeepsAttachments(t *testing.T) {
	folder := newFolder(t, "INBOX")
	a := New(state.NewIndex(), nil)

	first, ok, err := a.Assemble(model.Message{ID: "a", Folder: "INBOX", Ordinal: 1, Raw: reportEML}, folder)
	require.NoError(t, err)
	require.True(t, ok)

	c, err := a.Interpret(model.Message{ID: "b", Folder: "INBOX", Ordinal: 2, Raw: reportEML}, folder)
	require.NoError(t, err)
	require.FileExists(t, c.Record.HTMLPath)

	_, ok = a.Admit(c)
	assert.False(t, ok)
	assert.NoFileExists(t, c.Record.HTMLPath)
	require.Len(t, c.Record.Attachments, 1)
	assert.FileExists(t, c.Record.Attachments[0].Path, "attachments of a duplicate stay on disk")

	assert.FileExists(t, first.HTMLPath)
	assert.Equal(t, state.Snapshot{Keys: 1}, a.Index().Snapshot())
}

func TestAdmit_IncompleteKeyFailsOpen(t *testing.T) {
	folder := newFolder(t, "INBOX")
	a := New(state.NewIndex(), nil)
	raw := []byte("From: a@example.com\r\nSubject: no recipients\r\n\r\nbody\r\n")

	for i := 1; i <= 2; i++ {
		rec, ok, err := a.Assemble(model.Message{ID: "x", Folder: "INBOX", Ordinal: i, Raw: raw}, folder)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, rec.ID)
		assert.Equal(t, "body\n", rec.Message)
	}
}

func TestInterpret_Unreadable(t *testing.T) {
	folder := newFolder(t, "INBOX")
	_, err := New(nil, nil).Interpret(model.Message{ID: "bad", Ordinal: 1, Raw: []byte("garbage without colon\r\n\r\n")}, folder)
	assert.Error(t, err)
}

func TestInterpret_Concurrent(t *testing.T) {
	folder := newFolder(t, "INBOX")
	a := New(state.NewIndex(), nil)

	const n = 16
	candidates := make([]Candidate, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := a.Interpret(model.Message{ID: "m", Folder: "INBOX", Ordinal: i + 1, Raw: reportEML}, folder)
			assert.NoError(t, err)
			candidates[i] = c
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, c := range candidates {
		if _, ok := a.Admit(c); ok {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
}
