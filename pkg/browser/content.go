package browser

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// PageSummary is what the content validation looks at: visible text plus
// counts of images and clickable buttons.
type PageSummary struct {
	Text    string
	Images  int
	Buttons int
}

// HasContent reports whether the page shows something a user could act on.
func (s PageSummary) HasContent() bool {
	return utf8.RuneCountInString(s.Text) > minContentChars || s.Images > 0 || s.Buttons > 0
}

// minContentChars counts characters, not bytes.
const minContentChars = 50

// SummarizeHTML parses raw HTML and extracts its body text, image count and
// button count. Script, style, noscript and template content is ignored.
func SummarizeHTML(raw string) (PageSummary, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return PageSummary{}, err
	}

	var summary PageSummary
	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				return
			case "img", "svg", "picture":
				summary.Images++
			case "button":
				summary.Buttons++
			case "input":
				if t := strings.ToLower(attr(n, "type")); t == "submit" || t == "button" {
					summary.Buttons++
				}
			default:
				if attr(n, "role") == "button" {
					summary.Buttons++
				}
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	summary.Text = strings.Join(strings.Fields(text.String()), " ")
	return summary, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
