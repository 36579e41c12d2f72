package transform

import (
	"strings"
	"unicode"
)

// cleanChunk applies the per-chunk textual rewrites. Every rewrite is a
// linear scan or a plain replacement; nothing here may backtrack. The
// function is idempotent so resumed work never double-cleans a shard.
func cleanChunk(chunk string) string {
	out := chunk

	// Normalize line endings and strip BOM/zero-width characters that LLM
	// output sometimes smuggles in.
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.Map(func(r rune) rune {
		switch r {
		case '\uFEFF', '\u200B', '\u200C', '\u200D':
			return -1
		}
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, out)

	// Smart punctuation breaks string literals.
	replacer := strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
	)
	out = replacer.Replace(out)

	return out
}

// stripCodeFences removes markdown fences wrapping the whole source. Runs on
// the joined output, not per chunk, because a fence can straddle a boundary.
func stripCodeFences(src string) string {
	trimmed := strings.TrimSpace(src)
	if !strings.HasPrefix(trimmed, "```") {
		return src
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return src
	}
	// Opening fence with optional language tag.
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// normalizePropBodies walks JSX expression props (`={ ... }`) with a
// brace-balanced extractor and removes a trailing comma before the closing
// brace, a frequent LLM artifact that breaks the renderer's parser. Regex is
// deliberately avoided: prop bodies nest arbitrarily.
func normalizePropBodies(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	i := 0
	for i < len(src) {
		c := src[i]
		if c == '=' && i+1 < len(src) && src[i+1] == '{' {
			end := braceExtent(src, i+1)
			if end < 0 {
				b.WriteString(src[i:])
				break
			}
			body := src[i+1 : end]
			b.WriteByte('=')
			b.WriteString(stripTrailingComma(body))
			i = end
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// braceExtent returns the index just past the brace block opening at open.
func braceExtent(src string, open int) int {
	depth := 0
	i := open
	for i < len(src) {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		case '\'', '"', '`':
			i = skipStringLiteral(src, i)
			continue
		}
		i++
	}
	return -1
}

func skipStringLiteral(src string, i int) int {
	quote := src[i]
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case quote:
			return i + 1
		default:
			i++
		}
	}
	return i
}

// stripTrailingComma removes commas that directly precede a closing brace or
// bracket anywhere in the prop body (ignoring whitespace). String literals
// are skipped so `", }"` inside a value survives.
func stripTrailingComma(body string) string {
	var b strings.Builder
	b.Grow(len(body))

	i := 0
	for i < len(body) {
		c := body[i]
		switch c {
		case '\'', '"', '`':
			end := skipStringLiteral(body, i)
			b.WriteString(body[i:end])
			i = end
		case ',':
			j := i + 1
			for j < len(body) && unicode.IsSpace(rune(body[j])) {
				j++
			}
			if j < len(body) && (body[j] == '}' || body[j] == ']') {
				i++ // drop the comma, keep the whitespace
				continue
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
