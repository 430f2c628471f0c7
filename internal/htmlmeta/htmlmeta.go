// Package htmlmeta extracts page titles and advertised feed links from HTML.
package htmlmeta

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the metadata found in an HTML document.
type Page struct {
	// Title is og:title when present, otherwise the first <title>.
	Title string
	// Feeds are the absolute URLs of <link rel="alternate"> elements whose
	// type mentions rss or atom, in document order.
	Feeds []string
}

// Parse reads the metadata of an HTML document. base resolves relative
// feed hrefs and may be nil.
func Parse(data []byte, base *url.URL) (*Page, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("htmlmeta: parse: %w", err)
	}
	p := &Page{}
	var ogTitle, title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Meta:
				if ogTitle == "" && attr(n, "property") == "og:title" {
					ogTitle = strings.TrimSpace(attr(n, "content"))
				}
			case atom.Title:
				if title == "" {
					title = strings.TrimSpace(text(n))
				}
			case atom.Link:
				if href, ok := feedLink(n, base); ok {
					p.Feeds = append(p.Feeds, href)
				}
			case atom.Svg:
				// <title> inside inline SVG is not the page title.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.Title = ogTitle
	if p.Title == "" {
		p.Title = title
	}
	return p, nil
}

func feedLink(n *html.Node, base *url.URL) (string, bool) {
	if !hasToken(attr(n, "rel"), "alternate") {
		return "", false
	}
	typ := strings.ToLower(attr(n, "type"))
	if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") {
		return "", false
	}
	href := strings.TrimSpace(attr(n, "href"))
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String(), true
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
