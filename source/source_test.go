package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailbox-export/gmail"
	"github.com/dhcgn/mailbox-export/imap"
	"github.com/dhcgn/mailbox-export/mbox"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	src, err := Open(ctx, Options{Kind: KindIMAP, IMAP: imap.Options{Host: "imap.example.com", Port: 993}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &imap.Source{}, src)

	src, err = Open(ctx, Options{Kind: KindMbox, Mbox: mbox.Options{Paths: []string{"Inbox.mbox"}}}, nil)
	require.NoError(t, err)
	folders, err := src.Folders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Inbox"}, folders)

	_, err = Open(ctx, Options{Kind: KindGmail, Gmail: gmail.Options{}}, nil)
	assert.ErrorIs(t, err, gmail.ErrMissingCredentials)

	_, err = Open(ctx, Options{Kind: "pop3"}, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
