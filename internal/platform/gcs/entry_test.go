package gcs

import (
	"testing"
	"time"
)

func TestSortEntriesFoldersFirst(t *testing.T) {
	entries := []Entry{
		fileEntry("u1/zeta.pdf", 10, "application/pdf", zeroTime()),
		folderEntry("u1/reports/"),
		fileEntry("u1/alpha.pdf", 10, "application/pdf", zeroTime()),
		folderEntry("u1/archive/"),
	}
	SortEntries(entries)

	want := []string{"u1/archive/", "u1/reports/", "u1/alpha.pdf", "u1/zeta.pdf"}
	if len(entries) != len(want) {
		t.Fatalf("entry count: want=%d got=%d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Path != want[i] {
			t.Fatalf("entry %d: want=%q got=%q", i, want[i], e.Path)
		}
	}
}

func TestEntryName(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"u1/report.pdf", "report.pdf"},
		{"u1/reports/", "reports"},
		{"u1/", "u1"},
		{"report.pdf", "report.pdf"},
	}
	for _, c := range cases {
		var e Entry
		if c.path[len(c.path)-1] == '/' {
			e = folderEntry(c.path)
		} else {
			e = fileEntry(c.path, 0, "", zeroTime())
		}
		if got := e.Name(); got != c.want {
			t.Fatalf("Name(%q): want=%q got=%q", c.path, c.want, got)
		}
	}
}

func TestNormalizeFolder(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"u1", "u1/"},
		{"u1/", "u1/"},
		{"u1//", "u1/"},
		{"  u1/docs  ", "u1/docs/"},
		{"", ""},
	}
	for _, c := range cases {
		if got := normalizeFolder(c.in); got != c.want {
			t.Fatalf("normalizeFolder(%q): want=%q got=%q", c.in, c.want, got)
		}
	}
}

func zeroTime() (t time.Time) { return }
