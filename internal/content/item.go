// Package content manages the bookmark, article and feed collections of
// the data repository, including their archives.
package content

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/lurkhub/lurkhub-app/internal/dataset"
)

// Kind names a collection.
type Kind string

const (
	Bookmarks Kind = "bookmarks"
	Articles  Kind = "articles"
	Feeds     Kind = "feeds"
)

// Kinds lists every collection.
var Kinds = []Kind{Bookmarks, Articles, Feeds}

// ParseKind validates s as a collection name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !slices.Contains(Kinds, k) {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return k, nil
}

// Path returns the live dataset path, e.g. bookmarks/bookmarks.json.
func (k Kind) Path() string {
	return fmt.Sprintf("%s/%s.json", k, k)
}

// ArchivePath returns the path of archive volume n, e.g.
// bookmarks/archive/bookmarks-archive-001.json.
func (k Kind) ArchivePath(n int) string {
	return fmt.Sprintf("%s/archive/%s-archive-%03d.json", k, k, n)
}

// Item is a bookmark, article or feed subscription.
type Item struct {
	ID      string `json:"id" dataset:"id"`
	Title   string `json:"title" dataset:"title"`
	URL     string `json:"url" dataset:"url"`
	Tags    string `json:"tags" dataset:"tags"`
	Created string `json:"created" dataset:"created"`
}

var itemCodec = dataset.MustCodec[Item]()

// Fields returns the dataset columns items are stored under.
func Fields() []string { return itemCodec.Fields() }

// TagList splits Tags into its non-empty entries.
func (i Item) TagList() []string {
	var out []string
	for _, t := range strings.Split(i.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CreatedAt parses Created; the zero time is returned for unparsable values.
func (i Item) CreatedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, i.Created)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Timestamp formats t the way Created values are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NormalizeURL returns an absolute URL for input. Input without a scheme is
// assumed to be https. Unusable input yields "".
func NormalizeURL(input string) string {
	input = strings.TrimSpace(input)
	if input == "" || strings.ContainsAny(input, " \t\n") {
		return ""
	}
	if u, err := url.Parse(input); err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "") {
		return canonical(u)
	}
	u, err := url.Parse("https://" + input)
	if err != nil || u.Host == "" || u.Hostname() == "" {
		return ""
	}
	return canonical(u)
}

func canonical(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" || u.Scheme == "https") && u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return u.String()
}

// NormalizeTags trims entries, removes embedded spaces, drops empty ones and
// duplicates (keeping first occurrence order) and joins them with commas.
func NormalizeTags(tags string) string {
	seen := map[string]bool{}
	var out []string
	for _, t := range strings.Split(tags, ",") {
		t = strings.Join(strings.Fields(t), "")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

// Tags returns the distinct tags of items in ascending order.
func Tags(items []Item) []string {
	set := map[string]struct{}{}
	for _, it := range items {
		for _, t := range it.TagList() {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "dsc"
)

// Query selects items for listing.
type Query struct {
	// Search matches case-insensitively against the title.
	Search string
	// Tags must all be present on an item.
	Tags []string
	// Order sorts by creation time; newest first unless OrderAsc.
	Order string
}

// Filter returns the items matching q, sorted by creation time.
func Filter(items []Item, q Query) []Item {
	search := strings.ToLower(q.Search)
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if search != "" && !strings.Contains(strings.ToLower(it.Title), search) {
			continue
		}
		tags := it.TagList()
		ok := true
		for _, want := range q.Tags {
			if !slices.Contains(tags, want) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt(), out[j].CreatedAt()
		if q.Order == OrderAsc {
			return a.Before(b)
		}
		return b.Before(a)
	})
	return out
}
