// Package extract turns captured content (web pages, uploaded files)
// into the cleaned plain text the enrichment step consumes.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// HTMLResult is the outcome of boilerplate removal on a fetched page
type HTMLResult struct {
	Title       string
	CleanedText string
}

// FromHTML strips boilerplate from a fetched page using readability,
// falling back to the raw text content of the document when readability
// finds no article body (e.g. very sparse pages).
func FromHTML(rawHTML []byte, pageURL *url.URL) (*HTMLResult, error) {
	article, err := readability.FromReader(bytes.NewReader(rawHTML), pageURL)
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if text != "" {
			return &HTMLResult{
				Title:       strings.TrimSpace(article.Title),
				CleanedText: text,
			}, nil
		}
	}

	text := strings.TrimSpace(documentText(rawHTML))
	if text == "" {
		return nil, fmt.Errorf("could not extract text from page")
	}
	return &HTMLResult{CleanedText: text}, nil
}

// documentText collects the visible text nodes of an HTML document,
// skipping script and style subtrees.
func documentText(rawHTML []byte) string {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
