// Package local extracts renderings in-process: fetch the page with colly,
// isolate the article with go-readability and convert it to markdown.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/JakeFAU/crawler-edge/internal/extract"
	"github.com/JakeFAU/crawler-edge/internal/fetch"
	"github.com/JakeFAU/crawler-edge/internal/markup"
)

// minArticleWords is the size below which readability output is treated as
// a miss and the whole document body is converted instead.
const minArticleWords = 50

// ErrOriginStatus is returned when the origin answers with a non-2xx status.
var ErrOriginStatus = errors.New("local: origin returned an error status")

// Fetcher retrieves origin pages.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// Backend implements extract.Backend without a remote service.
type Backend struct {
	fetcher Fetcher
}

// New returns a Backend using fetcher.
func New(fetcher Fetcher) *Backend {
	return &Backend{fetcher: fetcher}
}

// Name implements extract.Backend.
func (b *Backend) Name() string { return "local" }

// Extract implements extract.Backend.
func (b *Backend) Extract(ctx context.Context, pageURL string) (extract.Rendering, error) {
	resp, err := b.fetcher.Fetch(ctx, fetch.Request{
		URL:     pageURL,
		Headers: http.Header{"Accept": {"text/html,application/xhtml+xml;q=0.9,text/markdown;q=0.8,*/*;q=0.5"}},
	})
	if err != nil {
		return extract.Rendering{}, fmt.Errorf("fetch origin: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return extract.Rendering{}, fmt.Errorf("%w: %d", ErrOriginStatus, resp.StatusCode)
	}

	if markup.IsMarkdownContentType(resp.ContentType()) {
		content := normalize(string(resp.Body))
		return extract.Rendering{
			Content:     content,
			Title:       firstHeading(content),
			ContentType: extract.MarkdownContentType,
			Original:    resp.Body,
		}, nil
	}

	title, content, err := Convert(resp.Body, pageURL)
	if err != nil {
		return extract.Rendering{}, err
	}
	return extract.Rendering{
		Content:     content,
		Title:       title,
		ContentType: extract.MarkdownContentType,
		Original:    resp.Body,
	}, nil
}

// Convert turns an HTML document into a title and markdown body.
func Convert(data []byte, pageURL string) (title, content string, err error) {
	parsedURL, _ := url.Parse(pageURL)
	article, rerr := readability.FromReader(bytes.NewReader(data), parsedURL)
	if rerr == nil && article.Node != nil {
		md, mdErr := htmltomarkdown.ConvertNode(article.Node)
		if mdErr == nil {
			text := normalize(string(md))
			if len(strings.Fields(text)) >= minArticleWords {
				return article.Title(), withTitle(article.Title(), text), nil
			}
		}
	}

	doc, perr := html.Parse(bytes.NewReader(data))
	if perr != nil {
		return "", "", fmt.Errorf("parse html: %w", perr)
	}
	title = documentTitle(doc)
	body := findElement(doc, "body")
	if body == nil {
		body = doc
	}
	stripNonContent(body)
	md, err := htmltomarkdown.ConvertNode(body)
	if err != nil {
		return "", "", fmt.Errorf("convert markdown: %w", err)
	}
	return title, withTitle(title, normalize(string(md))), nil
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
	"nav":      true,
	"footer":   true,
	"form":     true,
}

// stripNonContent removes chrome and hidden subtrees in place.
func stripNonContent(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.ElementNode && (skippedElements[child.Data] ||
			hasAttr(child, "hidden") || attrVal(child, "aria-hidden") == "true") {
			n.RemoveChild(child)
		} else {
			stripNonContent(child)
		}
		child = next
	}
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func documentTitle(doc *html.Node) string {
	titleNode := findElement(doc, "title")
	if titleNode == nil {
		return ""
	}
	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(titleNode)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// normalize trims trailing whitespace and collapses runs of blank lines
// without touching indentation, which carries meaning in markdown.
func normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func withTitle(title, content string) string {
	title = strings.TrimSpace(title)
	if title == "" || strings.HasPrefix(content, "# ") {
		return content
	}
	if content == "" {
		return "# " + title
	}
	return "# " + title + "\n\n" + content
}

func firstHeading(content string) string {
	for _, line := range strings.SplitN(content, "\n", 10) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return ""
}
