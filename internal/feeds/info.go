package feeds

import (
	"strings"
	"time"
)

// isoLayout matches JavaScript's Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Item is one entry as listed by the feed reader.
type Item struct {
	Title     string  `json:"title"`
	Link      string  `json:"link"`
	Published *string `json:"published"`
}

// Info summarises a feed for the subscription list.
type Info struct {
	Title         string  `json:"title"`
	LastPublished *string `json:"lastPublished"`
	Preview       string  `json:"preview"`
	PreviewLink   string  `json:"previewLink"`
}

// Items lists the entries of f. Atom entries link to their alternate link,
// falling back to the first one; Published is the raw date string or nil.
func Items(f *Feed) []Item {
	out := make([]Item, 0, len(f.Entries))
	for _, e := range f.Entries {
		it := Item{Title: e.Title, Link: pickLink(e.Links, "alternate")}
		published := e.Published
		if published == "" && f.Format == Atom {
			published = e.Updated
		}
		if published != "" {
			it.Published = &published
		}
		out = append(out, it)
	}
	return out
}

// FeedInfo builds the summary of f: its title, the newest publication date
// and the first entry as preview.
func FeedInfo(f *Feed) Info {
	info := Info{Title: f.Title}
	if info.Title == "" {
		if f.Format == Atom {
			info.Title = "Untitled Atom Feed"
		} else {
			info.Title = "Untitled RSS Feed"
		}
	}

	if len(f.Entries) > 0 {
		first := f.Entries[0]
		info.Preview = first.Title
		if f.Format == Atom {
			info.PreviewLink = pickLink(first.Links, "related", "alternate")
		} else {
			info.PreviewLink = pickLink(first.Links)
		}
	}

	var last time.Time
	switch {
	case f.Format == Atom && f.Updated != "":
		last, _ = ParseDate(f.Updated)
	case len(f.Entries) > 0:
		for _, e := range f.Entries {
			if t, ok := ParseDate(e.Published); ok && t.After(last) {
				last = t
			}
		}
	case f.Updated != "":
		last, _ = ParseDate(f.Updated)
	case f.LastBuild != "":
		last, _ = ParseDate(f.LastBuild)
	}
	if !last.IsZero() {
		s := last.UTC().Format(isoLayout)
		info.LastPublished = &s
	}
	return info
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses the date formats found in RSS and Atom documents.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
