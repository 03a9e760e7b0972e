package gcs

import (
	"sort"
	"strings"
	"time"
)

// Entry is one listing result. Folder entries are synthetic: the underlying
// store is flat, and a folder is a zero-byte marker whose path ends in the
// separator. Downstream code branches on Folder instead of parsing paths.
type Entry struct {
	Path        string
	Folder      bool
	Size        int64
	ContentType string
	Created     time.Time
}

// Name returns the last path element, without the trailing separator for
// folders.
func (e Entry) Name() string {
	p := strings.TrimSuffix(e.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func fileEntry(path string, size int64, contentType string, created time.Time) Entry {
	return Entry{Path: path, Size: size, ContentType: contentType, Created: created}
}

func folderEntry(path string) Entry {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return Entry{Path: path, Folder: true}
}

// SortEntries orders entries for display: folders before files, then
// lexicographic by full path within each kind. Implemented as a sort key
// rather than a pairwise comparator so the order is a total order.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entrySortKey(entries[i]) < entrySortKey(entries[j])
	})
}

func entrySortKey(e Entry) string {
	kind := "1"
	if e.Folder {
		kind = "0"
	}
	return kind + "\x00" + e.Path
}
