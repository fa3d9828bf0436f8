package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	scriptStyleRegex = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRegex     = regexp.MustCompile(`(?s)<[^>]+>`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// FetchWebpageDefinition is the schema for the webpage retrieval tool.
func FetchWebpageDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "fetch_webpage",
		Description: "Fetch a web page and return its visible text content with markup stripped.",
		Parameters: map[string]ParamSpec{
			"url": {
				Type:        "string",
				Description: "The URL to fetch, including scheme",
				Required:    true,
			},
		},
	}
}

// NewFetchWebpage builds the fetch_webpage tool. Failures (bad URL, HTTP
// errors, timeouts) come back as error payloads so the model can react.
func NewFetchWebpage(timeout time.Duration) ToolFunc {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, args map[string]any) (any, error) {
		url, ok := args["url"].(string)
		if !ok || url == "" {
			return nil, errors.New("missing string parameter 'url'")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return map[string]any{"status": "error", "error": err.Error()}, nil
		}
		req.Header.Set("User-Agent", "echoai/1.0")

		resp, err := client.Do(req)
		if err != nil {
			return map[string]any{"status": "error", "error": err.Error()}, nil
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return map[string]any{
				"status": "error",
				"error":  fmt.Sprintf("HTTP %d", resp.StatusCode),
				"url":    url,
			}, nil
		}

		// 2 MB cap keeps a hostile page from flooding the context window.
		body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		if err != nil {
			return map[string]any{"status": "error", "error": err.Error()}, nil
		}

		return map[string]any{
			"status": "success",
			"url":    url,
			"text":   StripHTML(string(body)),
		}, nil
	}
}

// StripHTML removes script and style elements, drops all remaining tags and
// collapses whitespace runs into single spaces.
func StripHTML(html string) string {
	text := scriptStyleRegex.ReplaceAllString(html, " ")
	text = htmlTagRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
