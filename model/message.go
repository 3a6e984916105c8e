package model

import "time"

// Message is a single raw message as fetched from a mail source.
type Message struct {
	// ID is assigned by the source: an IMAP UID, a Gmail message id or the
	// position in an mbox file.
	ID     string
	Folder string
	// Ordinal is the 1-based position in the folder listing. It names the
	// message's HTML dump and attachment files.
	Ordinal    int
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}
