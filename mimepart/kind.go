package mimepart

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the routing class of a MIME part.
type Kind int

const (
	Ignored Kind = iota
	PlainText
	HTML
	PDF
	Word
	Generic
)

func (k Kind) String() string {
	switch k {
	case PlainText:
		return "plain"
	case HTML:
		return "html"
	case PDF:
		return "pdf"
	case Word:
		return "word"
	case Generic:
		return "generic"
	default:
		return "ignored"
	}
}

var wordTypes = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/msword": ".doc",
}

// Classify maps a media type to its Kind and, for persisted kinds, the file
// extension to store it under. filename is an optional hint used when the
// media type alone has no known extension.
func Classify(mediaType, filename string) (Kind, string) {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case mediaType == "text/plain":
		return PlainText, ""
	case mediaType == "text/html":
		return HTML, ".html"
	case mediaType == "application/pdf":
		return PDF, ".pdf"
	case strings.HasPrefix(mediaType, "multipart/"):
		return Ignored, ""
	}
	if ext, ok := wordTypes[mediaType]; ok {
		return Word, ext
	}
	if ext := extension(mediaType, filename); ext != "" {
		return Generic, ext
	}
	return Ignored, ""
}

func extension(mediaType, filename string) string {
	if mediaType == "application/octet-stream" {
		if ext := filenameExtension(filename); ext != "" {
			return ext
		}
	}
	if mediaType != "" {
		if mt := mimetype.Lookup(mediaType); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return filenameExtension(filename)
}

func filenameExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
