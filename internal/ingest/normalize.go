// Package ingest implements the passage ingestion pipeline: fetch,
// extract, normalize, and chunk. Grounded on
// original_source/server/src/bin/ingest.rs (fetch/extract/split) and
// original_source/web/src/normalize.rs (the ASCII mapping table),
// required because spec.md section 4.4.3 races are byte-indexed
// ASCII only.
package ingest

import "strings"

// Codepoints are named by hex value rather than written as literal
// glyphs: most of them render as invisible, as a bare control
// character, or as indistinguishable from plain ASCII in an editor,
// which makes a literal-rune switch table unreviewable. This mirrors
// normalize.rs's own \u{...} escapes, just spelled out explicitly.
const (
	leftSingleQuote     = 0x2018
	rightSingleQuote    = 0x2019
	singleLow9Quote     = 0x201B
	primeMark           = 0x2032
	fullwidthApostrophe = 0xFF07

	leftDoubleQuote      = 0x201C
	rightDoubleQuote     = 0x201D
	doubleHighReversed   = 0x201F
	doublePrimeMark      = 0x2033
	leftGuillemet        = 0x00AB
	rightGuillemet       = 0x00BB
	singleLeftGuillemet  = 0x2039
	singleRightGuillemet = 0x203A
	fullwidthQuote       = 0xFF02

	hyphen          = 0x2010
	nonBreakHyphen  = 0x2011
	figureDash      = 0x2012
	enDash          = 0x2013
	emDash          = 0x2014
	horizontalBar   = 0x2015
	minusSign       = 0x2212
	smallEmDash     = 0xFE58
	smallHyphenMin  = 0xFE63
	fullwidthHyphen = 0xFF0D
	hyphenBullet    = 0x2043
	twoEmDash       = 0x2E3A
	threeEmDash     = 0x2E3B

	swungDash = 0x2053
	ellipsis  = 0x2026

	tab              = 0x0009
	lineFeed         = 0x000A
	verticalTab      = 0x000B
	formFeed         = 0x000C
	carriageReturn   = 0x000D
	nextLine         = 0x0085
	lineSeparator    = 0x2028
	paragraphSep     = 0x2029
	noBreakSpace     = 0x00A0
	figureSpace      = 0x2007
	narrowNoBreak    = 0x202F
	enQuad           = 0x2000
	emQuad           = 0x2001
	enSpace          = 0x2002
	emSpace          = 0x2003
	threePerEmSpace  = 0x2004
	fourPerEmSpace   = 0x2005
	sixPerEmSpace    = 0x2006
	punctuationSpace = 0x2008
	thinSpace        = 0x2009
	hairSpace        = 0x200A
	mediumMathSpace  = 0x205F
	ideographicSpace = 0x3000

	zeroWidthSpace    = 0x200B
	zeroWidthNonJoin  = 0x200C
	zeroWidthJoin     = 0x200D
	wordJoiner        = 0x2060
	byteOrderMark     = 0xFEFF
	softHyphen        = 0x00AD
)

// normalizeChar maps one typographic rune to its ASCII equivalent,
// ported rune-for-rune from normalize.rs's normalize_char match
// table. Runes with no ASCII equivalent pass through unchanged.
func normalizeChar(r rune) rune {
	switch r {
	case leftSingleQuote, rightSingleQuote, singleLow9Quote, primeMark, fullwidthApostrophe:
		return '\''
	case leftDoubleQuote, rightDoubleQuote, doubleHighReversed, doublePrimeMark,
		leftGuillemet, rightGuillemet, singleLeftGuillemet, singleRightGuillemet, fullwidthQuote:
		return '"'
	case hyphen, nonBreakHyphen, figureDash, enDash, emDash, horizontalBar,
		minusSign, smallEmDash, smallHyphenMin, fullwidthHyphen, hyphenBullet,
		twoEmDash, threeEmDash:
		return '-'
	case swungDash:
		return '~'
	case ellipsis:
		return '.'
	case tab, lineFeed, verticalTab, formFeed, carriageReturn,
		nextLine, lineSeparator, paragraphSep,
		noBreakSpace, figureSpace, narrowNoBreak,
		enQuad, emQuad, enSpace, emSpace, threePerEmSpace,
		fourPerEmSpace, sixPerEmSpace, punctuationSpace, thinSpace, hairSpace,
		mediumMathSpace, ideographicSpace:
		return ' '
	default:
		return r
	}
}

// isSkippable reports whether a rune is a zero-width or otherwise
// invisible codepoint that should be dropped outright rather than
// mapped, ported from normalize.rs's is_skippable.
func isSkippable(r rune) bool {
	switch r {
	case zeroWidthSpace, zeroWidthNonJoin, zeroWidthJoin, wordJoiner, byteOrderMark, softHyphen:
		return true
	default:
		return false
	}
}

// ASCIISanitize maps every rune of s through normalizeChar, drops
// skippable runes, and discards any remaining non-ASCII rune -- the
// stronger guarantee the Room's byte-indexed keystroke matching
// depends on (spec.md section 4.4.3: "passages are sanitized ASCII
// on ingest"). normalize.rs stops at mapping to ASCII-equivalents
// and leaves comparison-time normalization to matches_normalized;
// since this server compares raw bytes at read time, sanitization
// must happen once, here, at ingest.
func ASCIISanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if isSkippable(r) {
			continue
		}
		n := normalizeChar(r)
		if n > 127 {
			continue
		}
		if n == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		b.WriteRune(n)
	}
	return strings.TrimSpace(b.String())
}
