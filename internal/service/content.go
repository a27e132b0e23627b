package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/pagewise/hub/internal/models"
)

const (
	// MaxContentRunes caps the text sent to the embedding provider.
	MaxContentRunes = 8000
	snippetRunes    = 240
)

// skippedElements never contribute text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// blockElements end a line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "section": true, "article": true,
}

// NormalizeContent returns the text that is embedded for an entity. Pages hold rich text and
// are reduced from HTML to plain text; all content has whitespace collapsed and is capped at
// MaxContentRunes.
func NormalizeContent(entityType models.EntityType, content string) string {
	if entityType == models.EntityTypePage && strings.ContainsRune(content, '<') {
		content = htmlToText(content)
	}

	return truncateRunes(strings.Join(strings.Fields(content), " "), MaxContentRunes)
}

// EmbeddingText is the text embedded for a job: the display name followed by the content,
// so a record is findable by name even when its body is short.
func EmbeddingText(payload models.JobPayload) string {
	name := strings.TrimSpace(payload.Metadata.Name)
	content := strings.TrimSpace(payload.Content)

	switch {
	case name == "" || strings.HasPrefix(content, name):
		return content
	case content == "":
		return name
	default:
		return name + "\n" + content
	}
}

// ContentHash returns the sha256 hex digest of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}

// RecordHash fingerprints everything a stored record is derived from: the embedded text and the
// display kind. A kind-only change therefore still rewrites the record.
func RecordHash(text, kind string) string {
	if kind == "" {
		return ContentHash(text)
	}

	return ContentHash(text + "\x00kind=" + kind)
}

// Snippet returns a short prefix of normalized content for search results.
func Snippet(content string) string {
	return truncateRunes(content, snippetRunes)
}

func htmlToText(src string) string {
	var (
		b        strings.Builder
		skipping int
	)

	z := html.NewTokenizer(strings.NewReader(src))

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was extracted so far.
			return b.String()
		case html.StartTagToken, html.SelfClosingTagToken:
			tt := z.Token()
			tag := tt.Data

			if tt.Type == html.StartTagToken && skippedElements[tag] {
				skipping++
			}

			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)

			if skippedElements[tag] && skipping > 0 {
				skipping--
			}

			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipping == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		case html.CommentToken, html.DoctypeToken:
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := []rune(s)

	return strings.TrimSpace(string(runes[:n]))
}
