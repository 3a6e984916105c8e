package model

import (
	"strconv"
	"strings"
)

// Header holds the interpreted header fields of one message.
type Header struct {
	Sender     string
	Recipients string
	Subject    string
	Date       string
	Time       string
	Zone       string

	// Missing names the source header fields that were absent.
	Missing []string
}

// Attachment is one persisted non-text part.
type Attachment struct {
	Seq         int
	ContentType string
	Path        string
}

// MainBody is the isolated reply text of a message and its word count.
type MainBody struct {
	Text  string
	Words int
}

// Columns is the fixed column order of an exported record.
var Columns = []string{
	"Mailbox",
	"ID",
	"From",
	"To",
	"Subject",
	"Date",
	"Time",
	"Timezone",
	"Message",
	"Main Body",
	"Main Body Length",
	"HTML Location",
	"Attachment Location",
}

// Record is one exported row.
type Record struct {
	Folder string
	// ID numbers the records of one folder 1..n in listing order.
	// Duplicates, failures and filtered messages take no number.
	ID          int
	Header      Header
	Message     string
	MainBody    MainBody
	HTMLPath    string
	Attachments []Attachment
}

// AttachmentList joins the attachment paths with commas.
func (r Record) AttachmentList() string {
	paths := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		paths = append(paths, a.Path)
	}
	return strings.Join(paths, ",")
}

// Row renders the record in Columns order.
func (r Record) Row() []string {
	return []string{
		r.Folder,
		strconv.Itoa(r.ID),
		r.Header.Sender,
		r.Header.Recipients,
		r.Header.Subject,
		r.Header.Date,
		r.Header.Time,
		r.Header.Zone,
		r.Message,
		r.MainBody.Text,
		strconv.Itoa(r.MainBody.Words),
		r.HTMLPath,
		r.AttachmentList(),
	}
}
