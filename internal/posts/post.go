// Package posts stores short Markdown posts in the posts repository: an
// append-only sequence of index shards (index-00001.json, ...) listing
// {id, preview, more}, one body file per post under posts/yyyy/mm/dd, and a
// small lurkhub-posts.json config tracking the shard count.
package posts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/dataset"
)

const (
	DefaultPerIndex      = 100
	DefaultPerPage       = 50
	DefaultPreviewLength = 280

	// ConfigPath is the posts config file at the repository root.
	ConfigPath = "lurkhub-posts.json"
)

// Post is one index row.
type Post struct {
	ID      string `json:"id" dataset:"id"`
	Preview string `json:"preview" dataset:"preview"`
	More    bool   `json:"more" dataset:"more"`
}

// CreatedAt derives the creation time from the millisecond id.
func (p Post) CreatedAt() time.Time {
	ms, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Entry is a post together with the shard it is listed in.
type Entry struct {
	Post
	Shard int `json:"shard"`
}

// Config is the content of lurkhub-posts.json.
type Config struct {
	Fullname     string `json:"fullname"`
	TotalIndexes int    `json:"totalIndexes"`
}

var postCodec = dataset.MustCodec[Post]()

// Fields returns the dataset columns of an index shard.
func Fields() []string { return postCodec.Fields() }

// IndexPath returns the shard file name for the 1-based shard number n.
func IndexPath(n int) string {
	return fmt.Sprintf("index-%05d.json", n)
}

var indexPathRe = regexp.MustCompile(`^index-(\d{5})\.json$`)

// ShardNumber parses a shard file name back into its number.
func ShardNumber(path string) (int, error) {
	m := indexPathRe.FindStringSubmatch(path)
	if m == nil {
		return 0, apperr.Malformed("index file name %q", path)
	}
	n, _ := strconv.Atoi(m[1])
	return n, nil
}

// NextIndexPath returns the shard file following path.
func NextIndexPath(path string) (string, error) {
	n, err := ShardNumber(path)
	if err != nil {
		return "", err
	}
	return IndexPath(n + 1), nil
}

// NewID returns the post id for t: its Unix time in milliseconds.
func NewID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// BodyPath returns posts/yyyy/mm/dd/{id}.md, dated from the id in UTC.
func BodyPath(id string) (string, error) {
	ms, err := strconv.ParseInt(id, 10, 64)
	if err != nil || ms < 0 {
		return "", apperr.Malformed("invalid timestamp id %q", id)
	}
	t := time.UnixMilli(ms).UTC()
	return fmt.Sprintf("posts/%04d/%02d/%02d/%s.md", t.Year(), t.Month(), t.Day(), id), nil
}

// Preview returns the first n characters of the trimmed body and whether
// anything was cut off.
func Preview(body string, n int) (string, bool) {
	trimmed := strings.TrimSpace(body)
	r := []rune(trimmed)
	if len(r) <= n {
		return trimmed, false
	}
	return string(r[:n]), true
}
