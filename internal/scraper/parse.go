package scraper

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Counters are the numbers shown in a profile's navigation bar.
type Counters struct {
	Tweets    int64
	Followers int64
	Following int64
}

const (
	itemClassPrefix = "ProfileNav-item--"
	valueClass      = "ProfileNav-value"
	countAttr       = "data-count"
)

// ParseCounters reads the data-count attribute of the tweets, followers and
// following nav items. Missing or unreadable counters are left at zero.
func ParseCounters(r io.Reader) (Counters, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Counters{}, err
	}

	var c Counters
	targets := map[string]*int64{
		"tweets":    &c.Tweets,
		"followers": &c.Followers,
		"following": &c.Following,
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			for _, cls := range classes(n) {
				name, ok := strings.CutPrefix(cls, itemClassPrefix)
				if !ok {
					continue
				}
				if dst, want := targets[name]; want {
					*dst = countIn(n)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return c, nil
}

// countIn returns the data-count of the first ProfileNav-value span below n.
func countIn(n *html.Node) int64 {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "span" && hasClass(child, valueClass) {
			v, err := strconv.ParseInt(attr(child, countAttr), 10, 64)
			if err != nil {
				return 0
			}
			return v
		}
		if v := countIn(child); v != 0 {
			return v
		}
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range classes(n) {
		if c == class {
			return true
		}
	}
	return false
}
