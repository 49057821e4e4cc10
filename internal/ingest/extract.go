package ingest

import (
	"strings"

	"golang.org/x/net/html"
)

const (
	minParagraphLen = 80
	minPassageLen   = 120
	maxPassageLen   = 420
)

// ExtractParagraphs walks the parsed document and collects the text
// content of every <p> element, normalizing internal whitespace the
// same way normalize_space does in ingest.rs. Paragraphs of
// minParagraphLen characters or fewer are dropped before chunking, matching the
// original's own `filter(|t| t.len() > 80)`.
func ExtractParagraphs(r *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			text := normalizeSpace(textContent(n))
			if len(text) > minParagraphLen {
				out = append(out, text)
			}
			return // nested <p> is invalid HTML; don't double-collect
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(r)
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func normalizeSpace(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if isSpaceLike(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isSpaceLike(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	default:
		return false
	}
}

// BuildPassages combines paragraphs into passages of
// minPassageLen-maxPassageLen characters on sentence boundaries,
// ported from ingest.rs's extract_passages_from_html/push_chunk/
// split_sentences, narrowed to spec.md section 6's 120-420 character
// band (the original used a wider 220-650 band). A chunk that does not
// end in '.', '!' or '?' gets a '.' appended, so a finished passage can
// be one character longer than maxPassageLen.
func BuildPassages(paragraphs []string) []string {
	var out []string
	var buf strings.Builder

	for _, para := range paragraphs {
		if len(para) > maxPassageLen {
			for _, chunk := range splitSentences(para, maxPassageLen) {
				pushChunk(&out, &buf, chunk)
			}
		} else {
			pushChunk(&out, &buf, para)
		}
	}
	if buf.Len() > 0 && buf.Len() >= minPassageLen {
		out = append(out, strings.TrimSpace(buf.String()))
	}

	final := make([]string, 0, len(out))
	for _, s := range out {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !hasLetter(s) {
			continue
		}
		last := s[len(s)-1]
		if last != '.' && last != '!' && last != '?' {
			s += "."
		}
		final = append(final, s)
	}
	return final
}

func pushChunk(out *[]string, buf *strings.Builder, next string) {
	curLen := buf.Len()
	switch {
	case curLen == 0:
		buf.WriteString(next)
	case curLen+1+len(next) <= maxPassageLen:
		buf.WriteByte(' ')
		buf.WriteString(next)
	default:
		if curLen >= minPassageLen {
			*out = append(*out, strings.TrimSpace(buf.String()))
		}
		buf.Reset()
		buf.WriteString(next)
	}
}

func splitSentences(long string, maxLen int) []string {
	var out []string
	var cur strings.Builder
	for _, sent := range strings.FieldsFunc(long, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		s := normalizeSpace(sent)
		if s == "" {
			continue
		}
		if cur.Len()+len(s)+1 > maxLen {
			if cur.Len() > 0 {
				out = append(out, strings.TrimSpace(cur.String()))
			}
			cur.Reset()
			cur.WriteString(s)
		} else {
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(s)
		}
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
