package validator

// Linear scanners shared by the validator passes. Everything here is a
// single-pass state machine; no regex with nested quantifiers is allowed in
// per-chunk paths.

// blockEnd returns the index just past the brace block opening at openIdx
// (src[openIdx] must be '{'). String literals, template literals, and
// comments are skipped so braces inside them do not unbalance the scan.
// Returns -1 when the block never closes.
func blockEnd(src string, openIdx int) int {
	depth := 0
	i := openIdx
	for i < len(src) {
		c := src[i]
		switch c {
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
			if depth == 0 {
				return i
			}
		case '\'', '"', '`':
			i = skipString(src, i)
		case '/':
			if i+1 < len(src) {
				switch src[i+1] {
				case '/':
					i = skipLine(src, i)
					continue
				case '*':
					i = skipBlockComment(src, i)
					continue
				}
			}
			i++
		default:
			i++
		}
	}
	return -1
}

// matchDelim returns the index just past the closing delimiter matching the
// opener at openIdx (one of '(', '['). Strings and comments are skipped.
func matchDelim(src string, openIdx int) int {
	open := src[openIdx]
	var close byte
	switch open {
	case '(':
		close = ')'
	case '[':
		close = ']'
	default:
		return -1
	}

	depth := 0
	i := openIdx
	for i < len(src) {
		c := src[i]
		switch c {
		case open:
			depth++
			i++
		case close:
			depth--
			i++
			if depth == 0 {
				return i
			}
		case '\'', '"', '`':
			i = skipString(src, i)
		case '/':
			if i+1 < len(src) {
				switch src[i+1] {
				case '/':
					i = skipLine(src, i)
					continue
				case '*':
					i = skipBlockComment(src, i)
					continue
				}
			}
			i++
		default:
			i++
		}
	}
	return -1
}

// skipString advances past the string literal starting at i (src[i] is the
// quote). Escapes are honored; template literals may span lines.
func skipString(src string, i int) int {
	quote := src[i]
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case quote:
			return i + 1
		case '\n':
			if quote != '`' {
				// Unterminated single-line string; stop at the newline.
				return i + 1
			}
			i++
		default:
			i++
		}
	}
	return i
}

func skipLine(src string, i int) int {
	for i < len(src) && src[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(src string, i int) int {
	i += 2
	for i+1 < len(src) {
		if src[i] == '*' && src[i+1] == '/' {
			return i + 2
		}
		i++
	}
	return len(src)
}

// lineStart returns the index of the first byte of the line containing idx.
func lineStart(src string, idx int) int {
	for idx > 0 && src[idx-1] != '\n' {
		idx--
	}
	return idx
}

// statementEnd returns the index just past the current statement: through the
// terminating semicolon, or end of line when no semicolon closes it first.
func statementEnd(src string, idx int) int {
	i := idx
	for i < len(src) {
		switch src[i] {
		case ';':
			return i + 1
		case '\n':
			return i
		case '\'', '"', '`':
			i = skipString(src, i)
		case '{':
			end := blockEnd(src, i)
			if end < 0 {
				return len(src)
			}
			i = end
		case '(', '[':
			end := matchDelim(src, i)
			if end < 0 {
				return len(src)
			}
			i = end
		default:
			i++
		}
	}
	return i
}

// isIdentByte reports whether c can appear inside an identifier.
func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// braceBalance counts net opening minus closing braces outside strings and
// comments.
func braceBalance(src string) int {
	balance := 0
	i := 0
	for i < len(src) {
		switch src[i] {
		case '{':
			balance++
			i++
		case '}':
			balance--
			i++
		case '\'', '"', '`':
			i = skipString(src, i)
		case '/':
			if i+1 < len(src) {
				switch src[i+1] {
				case '/':
					i = skipLine(src, i)
					continue
				case '*':
					i = skipBlockComment(src, i)
					continue
				}
			}
			i++
		default:
			i++
		}
	}
	return balance
}
