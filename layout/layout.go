// Package layout owns the export directory tree: one directory per mail
// folder holding raw HTML dumps and persisted attachments.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var ErrNoFreeDirectory = errors.New("no free export directory")

// maxAlternatives bounds the numbered siblings tried when the export
// directory already exists.
const maxAlternatives = 100

const (
	rawDir        = "raw"
	attachmentDir = "attachments"
)

// Layout is a prepared export root. Each mailbox name gets its own
// directory even when two names clean to the same label.
type Layout struct {
	Root string

	mu     sync.Mutex
	labels map[string]string
	taken  map[string]bool
}

// Prepare creates the export root at base. When base already exists it is
// left untouched and the first free sibling named base0 to base99 is used.
func Prepare(base string) (*Layout, error) {
	base = filepath.Clean(strings.TrimSpace(base))
	if base == "" || base == "." {
		return nil, fmt.Errorf("export directory is empty")
	}

	root := base
	if exists(root) {
		root = ""
		for i := 0; i < maxAlternatives; i++ {
			candidate := base + strconv.Itoa(i)
			if !exists(candidate) {
				root = candidate
				break
			}
		}
		if root == "" {
			return nil, fmt.Errorf("%w: %s0..%d taken", ErrNoFreeDirectory, base, maxAlternatives-1)
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Layout{Root: root}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var folderNameCleaner = strings.NewReplacer(
	"[", "",
	"]", "",
	`"`, "",
	`\`, "",
	"/", "-",
	" ", "-",
)

// CleanFolderName turns a mailbox name into a directory name.
func CleanFolderName(name string) string {
	clean := folderNameCleaner.Replace(name)
	switch clean {
	case "", ".", "..":
		return "folder" + strings.Repeat("-", len(clean))
	}
	return clean
}

// Folder returns the directories for one mail folder, creating them.
// Asking again for the same name returns the same directories.
func (l *Layout) Folder(name string) (*Folder, error) {
	label := l.label(name)
	dir := filepath.Join(l.Root, label)
	f := &Folder{
		Label:         label,
		Dir:           dir,
		RawDir:        filepath.Join(dir, rawDir),
		AttachmentDir: filepath.Join(dir, attachmentDir),
	}
	for _, d := range []string{f.RawDir, f.AttachmentDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return f, nil
}

// label reserves a directory name for a mailbox. A label already held by
// another mailbox gets the first free suffix -2, -3 and so on.
func (l *Layout) label(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if label, ok := l.labels[name]; ok {
		return label
	}
	if l.labels == nil {
		l.labels = make(map[string]string)
		l.taken = make(map[string]bool)
	}

	base := CleanFolderName(name)
	label := base
	for i := 2; l.taken[strings.ToLower(label)]; i++ {
		label = base + "-" + strconv.Itoa(i)
	}
	l.labels[name] = label
	l.taken[strings.ToLower(label)] = true
	return label
}

// Folder persists the files of one mail folder.
type Folder struct {
	Label         string
	Dir           string
	RawDir        string
	AttachmentDir string
}

// SaveHTML writes raw/<loc>.html.
func (f *Folder) SaveHTML(loc string, payload []byte) (string, error) {
	path := filepath.Join(f.RawDir, loc+".html")
	return path, writeFile(path, payload)
}

// SaveAttachment writes attachments/<loc>_<seq><ext>.
func (f *Folder) SaveAttachment(loc string, seq int, ext string, payload []byte) (string, error) {
	path := filepath.Join(f.AttachmentDir, loc+"_"+strconv.Itoa(seq)+ext)
	return path, writeFile(path, payload)
}

// Remove deletes a file previously written by this folder. Removing a file
// that is already gone is not an error.
func (f *Folder) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, payload []byte) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if _, err := file.Write(payload); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
