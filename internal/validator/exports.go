package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// exportDecl captures one top-level export occurrence.
type exportDecl struct {
	name  string
	kind  string // const, let, var, function, class, interface, type, enum, default
	start int    // byte offset of the line start
	end   int    // byte offset just past the declaration
}

var (
	exportNamedPattern   = regexp.MustCompile(`(?m)^export\s+(const|let|var|function|class|interface|type|enum)\s+([\w$]+)`)
	exportDefaultPattern = regexp.MustCompile(`(?m)^export\s+default\b`)
)

// dedupeExports retains only the last declaration of every exported name and
// comments out the earlier ones. Function-style blocks are excised by
// brace-depth matching over the source so no orphan closing braces remain.
func dedupeExports(src string) (string, []Issue) {
	var issues []Issue

	decls := collectExports(src)
	byName := make(map[string][]exportDecl)
	var order []string
	for _, d := range decls {
		if _, seen := byName[d.name]; !seen {
			order = append(order, d.name)
		}
		byName[d.name] = append(byName[d.name], d)
	}

	imported := importedSymbols(src)
	for _, name := range order {
		if name != "default" && imported[name] != "" {
			issues = append(issues, Issue{
				Pass:    "exports",
				Message: fmt.Sprintf("exported name %s collides with an import from %s", name, imported[name]),
			})
		}
	}

	// Collect the victims (all but the last of each name), then comment them
	// out back-to-front so earlier offsets stay valid.
	var victims []exportDecl
	for _, name := range order {
		occurrences := byName[name]
		if len(occurrences) < 2 {
			continue
		}
		victims = append(victims, occurrences[:len(occurrences)-1]...)
		issues = append(issues, Issue{
			Pass:    "exports",
			Message: fmt.Sprintf("removed %d duplicate export(s) of %s, kept the last", len(occurrences)-1, name),
		})
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].start > victims[j].start })
	for _, victim := range victims {
		src = commentOutRange(src, victim.start, victim.end)
	}

	return src, issues
}

// collectExports scans the source for top-level export declarations.
func collectExports(src string) []exportDecl {
	var decls []exportDecl

	for _, loc := range exportNamedPattern.FindAllStringSubmatchIndex(src, -1) {
		kind := src[loc[2]:loc[3]]
		name := src[loc[4]:loc[5]]
		start := lineStart(src, loc[0])
		decls = append(decls, exportDecl{
			name:  name,
			kind:  kind,
			start: start,
			end:   declEnd(src, loc[0], kind),
		})
	}
	for _, loc := range exportDefaultPattern.FindAllStringIndex(src, -1) {
		start := lineStart(src, loc[0])
		kind := "default"
		// export default function/class gets block treatment.
		rest := src[loc[1]:]
		trimmed := strings.TrimLeft(rest, " \t")
		if strings.HasPrefix(trimmed, "function") || strings.HasPrefix(trimmed, "class") {
			kind = "function"
		}
		decls = append(decls, exportDecl{
			name:  "default",
			kind:  kind,
			start: start,
			end:   declEnd(src, loc[0], kind),
		})
	}

	// Keep source order regardless of which pattern found them.
	for i := 1; i < len(decls); i++ {
		for j := i; j > 0 && decls[j].start < decls[j-1].start; j-- {
			decls[j], decls[j-1] = decls[j-1], decls[j]
		}
	}
	return decls
}

// declEnd computes the extent of a declaration starting at declStart.
// Block kinds (function, class, interface, enum) end at their matching brace;
// everything else ends at the statement terminator.
func declEnd(src string, declStart int, kind string) int {
	switch kind {
	case "function", "class", "interface", "enum":
		open := strings.IndexByte(src[declStart:], '{')
		if open < 0 {
			return statementEnd(src, declStart)
		}
		end := blockEnd(src, declStart+open)
		if end < 0 {
			return len(src)
		}
		// Include a trailing semicolon if present.
		if end < len(src) && src[end] == ';' {
			end++
		}
		return end
	default:
		return statementEnd(src, declStart)
	}
}

// commentOutRange prefixes every line in [start, end) with "// ".
func commentOutRange(src string, start, end int) string {
	if end > len(src) {
		end = len(src)
	}
	segment := src[start:end]
	lines := strings.Split(segment, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines[i] = "// " + line
	}
	return src[:start] + strings.Join(lines, "\n") + src[end:]
}
