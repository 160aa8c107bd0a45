package person

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractText flattens an HTML fragment (remote actor summaries arrive as
// markup) into its visible text. Tag boundaries collapse to single spaces,
// entities are decoded, and comments plus script/style bodies are dropped.
func ExtractText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var out strings.Builder
	rawDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(out.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isRawTextTag(string(name)) {
				rawDepth++
			}
			out.WriteByte(' ')
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isRawTextTag(string(name)) && rawDepth > 0 {
				rawDepth--
			}
			out.WriteByte(' ')
		case html.SelfClosingTagToken:
			out.WriteByte(' ')
		case html.TextToken:
			if rawDepth == 0 {
				out.Write(tokenizer.Text())
			}
		}
	}
}

// isRawTextTag names the elements whose text content is never visible.
func isRawTextTag(name string) bool {
	switch name {
	case "script", "style":
		return true
	}
	return false
}

func parseURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("person: uri %q has no authority", raw)
	}
	return parsed, nil
}
