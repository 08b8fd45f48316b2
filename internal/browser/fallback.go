package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pagespin/internal/types"

	"golang.org/x/net/html"
)

// fetchFallback retrieves the page over plain HTTP and extracts its text by
// walking the HTML tree. Used when headless Chrome is unavailable.
func fetchFallback(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; pagespin/1.0)")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &types.FetchError{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	text, err := extractText(resp.Body)
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err}
	}
	return text, nil
}

// extractText walks the document and collects visible text, preferring the
// <main> element when one exists.
func extractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	root := doc
	if main := findElement(doc, "main"); main != nil {
		root = main
	} else if body := findElement(doc, "body"); body != nil {
		root = body
	}

	var sb strings.Builder
	collectText(root, &sb)
	return strings.TrimSpace(sb.String()), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
