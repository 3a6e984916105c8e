package mbox

import (
	"bytes"
	"context"
	_ "embed"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed test_data/sample.mbox
var sampleMbox []byte

const samplePath = "test_data/sample.mbox"

func TestScan(t *testing.T) {
	var subjects []string
	err := Scan(context.Background(), bytes.NewReader(sampleMbox), func(idx int, raw []byte) error {
		assert.Equal(t, len(subjects), idx)
		switch {
		case bytes.Contains(raw, []byte("Subject: Lunch")):
			subjects = append(subjects, "Lunch")
		case bytes.Contains(raw, []byte("Subject: Report")):
			subjects = append(subjects, "Report")
		case bytes.Contains(raw, []byte("Subject: Offsite")):
			subjects = append(subjects, "Offsite")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lunch", "Report", "Offsite"}, subjects)
}

func TestScan_CallbackErrorStops(t *testing.T) {
	boom := assert.AnError
	calls := 0
	err := Scan(context.Background(), bytes.NewReader(sampleMbox), func(int, []byte) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestCountMessages(t *testing.T) {
	n, err := CountMessages(samplePath)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = CountMessages(filepath.Join(t.TempDir(), "missing.mbox"))
	assert.Error(t, err)
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "Inbox", FolderName("/exports/Inbox.mbox"))
	assert.Equal(t, "Sent", FolderName("Sent.MBOX"))
	assert.Equal(t, "archive.2021", FolderName("archive.2021"))
}

func TestSource(t *testing.T) {
	src, err := New(Options{Paths: []string{samplePath, "other/sample.mbox"}}, nil)
	require.NoError(t, err)
	defer src.Close()

	folders, err := src.Folders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sample", "sample-2"}, folders)

	ids, err := src.List(context.Background(), "sample")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	msg, err := src.Fetch(context.Background(), "sample", "2")
	require.NoError(t, err)
	assert.Equal(t, "2", msg.ID)
	assert.Equal(t, "sample", msg.Folder)
	assert.Contains(t, string(msg.Raw), "Subject: Report")
	assert.Equal(t, int64(len(msg.Raw)), msg.Size)

	_, err = src.Fetch(context.Background(), "sample", "2")
	assert.ErrorIs(t, err, ErrMessageNotFound, "messages are released after fetch")

	_, err = src.Fetch(context.Background(), "sample", "9")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = src.List(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrUnknownFolder)

	_, err = src.List(context.Background(), "sample-2")
	assert.Error(t, err)
}

func TestNew_NoPaths(t *testing.T) {
	_, err := New(Options{Paths: []string{"", "  "}}, nil)
	assert.ErrorIs(t, err, ErrNoPaths)
}
