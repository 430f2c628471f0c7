// Package feeds parses RSS 2.0, RSS 1.0 (RDF) and Atom 1.0 documents and
// derives the item lists and summaries the feed reader shows.
package feeds

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
)

// Format is the syndication format of a document.
type Format string

const (
	RSS  Format = "rss"
	Atom Format = "atom"
)

// Link is an entry link with its relation.
type Link struct {
	Href string
	Rel  string
}

// Entry is one item of a feed.
type Entry struct {
	Title     string
	Links     []Link
	Published string
	Updated   string
}

// Feed is a parsed feed document.
type Feed struct {
	Format Format
	Title  string
	Link   string
	// Updated is the channel-level pubDate / lastBuildDate (RSS) or
	// <updated> (Atom), unparsed.
	Updated   string
	LastBuild string
	Entries   []Entry
}

// Parse auto-detects the format from the root element and parses data.
// Documents that are not RSS or Atom yield apperr.ErrMalformed.
func Parse(data []byte) (*Feed, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apperr.Malformed("empty feed")
	}
	switch detectFormat(trimmed) {
	case "rss":
		return parseRSS(trimmed)
	case "rdf":
		return parseRDF(trimmed)
	case "atom":
		return parseAtom(trimmed)
	default:
		return nil, apperr.Malformed("unknown feed format")
	}
}

func detectFormat(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			switch strings.ToLower(se.Name.Local) {
			case "rss":
				return "rss"
			case "rdf":
				return "rdf"
			case "feed":
				return "atom"
			}
			return ""
		}
	}
}

func newDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	// Non UTF-8 declarations are read as-is.
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	return d
}

// --- RSS 2.0 ---

type rssRoot struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string `xml:"title"`
	// atom:link elements share the local name; the first non-empty wins.
	Links         []string  `xml:"link"`
	PubDate       string    `xml:"pubDate"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string   `xml:"title"`
	Links   []string `xml:"link"`
	PubDate string   `xml:"pubDate"`
	Date    string   `xml:"date"` // dc:date
}

func (it rssItem) entry() Entry {
	published := strings.TrimSpace(it.PubDate)
	if published == "" {
		published = strings.TrimSpace(it.Date)
	}
	e := Entry{Title: strings.TrimSpace(it.Title), Published: published}
	if l := firstText(it.Links); l != "" {
		e.Links = []Link{{Href: l}}
	}
	return e
}

func parseRSS(data []byte) (*Feed, error) {
	var root rssRoot
	if err := newDecoder(data).Decode(&root); err != nil {
		return nil, apperr.Malformed("parse rss: %v", err)
	}
	ch := root.Channel
	f := &Feed{
		Format:    RSS,
		Title:     strings.TrimSpace(ch.Title),
		Link:      firstText(ch.Links),
		Updated:   strings.TrimSpace(ch.PubDate),
		LastBuild: strings.TrimSpace(ch.LastBuildDate),
		Entries:   make([]Entry, 0, len(ch.Items)),
	}
	for _, it := range ch.Items {
		f.Entries = append(f.Entries, it.entry())
	}
	return f, nil
}

func firstText(vals []string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// --- RSS 1.0 ---

type rdfRoot struct {
	Channel rssChannel `xml:"channel"`
	Items   []rssItem  `xml:"item"`
}

func parseRDF(data []byte) (*Feed, error) {
	var root rdfRoot
	if err := newDecoder(data).Decode(&root); err != nil {
		return nil, apperr.Malformed("parse rdf: %v", err)
	}
	f := &Feed{
		Format:  RSS,
		Title:   strings.TrimSpace(root.Channel.Title),
		Link:    firstText(root.Channel.Links),
		Entries: make([]Entry, 0, len(root.Items)),
	}
	for _, it := range root.Items {
		f.Entries = append(f.Entries, it.entry())
	}
	return f, nil
}

// --- Atom 1.0 ---

type atomFeed struct {
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

func parseAtom(data []byte) (*Feed, error) {
	var root atomFeed
	if err := newDecoder(data).Decode(&root); err != nil {
		return nil, apperr.Malformed("parse atom: %v", err)
	}
	f := &Feed{
		Format:  Atom,
		Title:   strings.TrimSpace(root.Title),
		Updated: strings.TrimSpace(root.Updated),
		Entries: make([]Entry, 0, len(root.Entries)),
	}
	f.Link = pickLink(atomLinks(root.Links), "alternate")
	for _, e := range root.Entries {
		f.Entries = append(f.Entries, Entry{
			Title:     strings.TrimSpace(e.Title),
			Links:     atomLinks(e.Links),
			Published: strings.TrimSpace(e.Published),
			Updated:   strings.TrimSpace(e.Updated),
		})
	}
	return f, nil
}

func atomLinks(in []atomLink) []Link {
	out := make([]Link, 0, len(in))
	for _, l := range in {
		if h := strings.TrimSpace(l.Href); h != "" {
			out = append(out, Link{Href: h, Rel: strings.TrimSpace(l.Rel)})
		}
	}
	return out
}

// pickLink returns the href of the first link with one of rels, in order of
// preference, falling back to the first link.
func pickLink(links []Link, rels ...string) string {
	for _, rel := range rels {
		for _, l := range links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}
