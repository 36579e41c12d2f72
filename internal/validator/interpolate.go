package validator

import (
	"fmt"
	"strconv"
	"strings"
)

// fixInterpolations rewrites literal input ranges of interpolate() calls so
// they are strictly monotonically increasing, and re-zips output ranges to
// the input length. Non-literal ranges are left untouched. Idempotent.
func fixInterpolations(src string) (string, []Issue) {
	var issues []Issue
	var b strings.Builder
	b.Grow(len(src))

	i := 0
	for i < len(src) {
		pos := strings.Index(src[i:], "interpolate")
		if pos < 0 {
			b.WriteString(src[i:])
			break
		}
		pos += i
		b.WriteString(src[i:pos])

		// Whole identifier only; interpolateColors etc. pass through.
		afterIdx := pos + len("interpolate")
		identOK := (pos == 0 || !isIdentByte(src[pos-1])) &&
			afterIdx < len(src) && !isIdentByte(src[afterIdx])
		if !identOK {
			b.WriteString("interpolate")
			i = afterIdx
			continue
		}

		open := afterIdx
		for open < len(src) && (src[open] == ' ' || src[open] == '\t') {
			open++
		}
		if open >= len(src) || src[open] != '(' {
			b.WriteString(src[pos:open])
			i = open
			continue
		}
		close := matchDelim(src, open)
		if close < 0 {
			b.WriteString(src[pos:])
			break
		}

		call := src[pos:close]
		fixed, callIssues := fixInterpolateCall(call)
		issues = append(issues, callIssues...)
		b.WriteString(fixed)
		i = close
	}

	return b.String(), issues
}

// fixInterpolateCall rewrites one interpolate(...) call text.
func fixInterpolateCall(call string) (string, []Issue) {
	open := strings.IndexByte(call, '(')
	args := splitTopLevelArgs(call[open+1 : len(call)-1])
	if len(args) < 3 {
		return call, nil
	}

	input, inputOK := parseNumericArray(args[1])
	if !inputOK {
		return call, nil
	}

	var issues []Issue
	repaired := make([]float64, len(input))
	copy(repaired, input)
	changed := false
	for idx := 1; idx < len(repaired); idx++ {
		if repaired[idx] <= repaired[idx-1] {
			repaired[idx] = repaired[idx-1] + 1
			changed = true
		}
	}
	if changed {
		args[1] = formatNumericArray(repaired)
		issues = append(issues, Issue{
			Pass:    "interpolate",
			Message: fmt.Sprintf("rewrote non-monotonic input range to %s", args[1]),
		})
	}

	if output, outputOK := parseNumericArray(args[2]); outputOK && len(output) != len(repaired) {
		resized := make([]float64, len(repaired))
		for idx := range resized {
			if idx < len(output) {
				resized[idx] = output[idx]
			} else {
				resized[idx] = output[len(output)-1]
			}
		}
		args[2] = formatNumericArray(resized)
		issues = append(issues, Issue{
			Pass:    "interpolate",
			Message: fmt.Sprintf("resized output range to match input length %d", len(repaired)),
		})
	}

	if len(issues) == 0 {
		return call, nil
	}
	return call[:open+1] + strings.Join(args, ", ") + ")", issues
}

// splitTopLevelArgs splits an argument list on commas outside any nesting.
func splitTopLevelArgs(argText string) []string {
	var args []string
	depth := 0
	start := 0
	i := 0
	for i < len(argText) {
		switch argText[i] {
		case '(', '[', '{':
			depth++
			i++
		case ')', ']', '}':
			depth--
			i++
		case '\'', '"', '`':
			i = skipString(argText, i)
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(argText[start:i]))
				start = i + 1
			}
			i++
		default:
			i++
		}
	}
	if trimmed := strings.TrimSpace(argText[start:]); trimmed != "" {
		args = append(args, trimmed)
	}
	return args
}

// parseNumericArray parses a literal like [0, 10, 20.5]. Anything else
// (spread, identifiers, expressions) reports false.
func parseNumericArray(arg string) ([]float64, bool) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 || arg[0] != '[' || arg[len(arg)-1] != ']' {
		return nil, false
	}
	parts := strings.Split(arg[1:len(arg)-1], ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func formatNumericArray(values []float64) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = strconv.FormatFloat(value, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
