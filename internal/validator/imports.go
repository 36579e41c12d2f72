package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// symbolModules maps every symbol of the renderer's public surface to the
// module that provides it. Used to synthesize missing imports.
var symbolModules = map[string]string{
	"AbsoluteFill":    "remotion",
	"Sequence":        "remotion",
	"Series":          "remotion",
	"Loop":            "remotion",
	"Freeze":          "remotion",
	"Audio":           "remotion",
	"Video":           "remotion",
	"OffthreadVideo":  "remotion",
	"Img":             "remotion",
	"IFrame":          "remotion",
	"Composition":     "remotion",
	"Still":           "remotion",
	"interpolate":     "remotion",
	"interpolateColors": "remotion",
	"spring":          "remotion",
	"measureSpring":   "remotion",
	"useCurrentFrame": "remotion",
	"useVideoConfig":  "remotion",
	"Easing":          "remotion",
	"staticFile":      "remotion",
	"delayRender":     "remotion",
	"continueRender":  "remotion",
	"random":          "remotion",
	"Player":          "@remotion/player",
	"Trail":           "@remotion/motion-blur",
	"CameraMotionBlur": "@remotion/motion-blur",
	"getSubpaths":     "@remotion/paths",
	"getLength":       "@remotion/paths",
	"evolvePath":      "@remotion/paths",
	"downloadMedia":   "@remotion/renderer",
	"Gif":             "@remotion/gif",
	"Lottie":          "@remotion/lottie",
}

// deprecatedRewrites are import shapes the renderer no longer accepts. Each
// entry renames a symbol and, when module is non-empty, moves it there.
var deprecatedRewrites = []struct {
	oldSymbol string
	newSymbol string
	module    string
	reason    string
}{
	{"Config", "Config", "@remotion/cli/config", "Config moved out of the root module"},
	{"MotionBlur", "Trail", "@remotion/motion-blur", "MotionBlur was renamed to Trail"},
	{"downloadVideo", "downloadMedia", "@remotion/renderer", "downloadVideo was renamed to downloadMedia"},
	{"getParts", "getSubpaths", "@remotion/paths", "getParts was renamed to getSubpaths"},
}

var (
	namedImportPattern   = regexp.MustCompile(`import\s+(?:[\w$]+\s*,\s*)?\{([^}]*)\}\s*from\s*['"]([^'"]+)['"];?`)
	defaultImportPattern = regexp.MustCompile(`import\s+([\w$]+)\s*(?:,\s*\{[^}]*\})?\s*from\s*['"]([^'"]+)['"];?`)
	jsxElementPattern    = regexp.MustCompile(`<[A-Za-z][\w.]*[\s/>]`)
)

// validateImports ensures every used renderer symbol is imported, rewrites
// deprecated import shapes, and injects the JSX runtime import when needed.
// The pass is idempotent.
func validateImports(src string) (string, []Issue) {
	var issues []Issue

	src, rewriteIssues := applyDeprecatedRewrites(src)
	issues = append(issues, rewriteIssues...)

	imported := importedSymbols(src)
	local := localDefinitions(src)

	// Group missing symbols by providing module for a single synthesized
	// import per module.
	missing := make(map[string][]string)
	for symbol, module := range symbolModules {
		if imported[symbol] != "" || local[symbol] {
			continue
		}
		if !symbolUsed(src, symbol) {
			continue
		}
		missing[module] = append(missing[module], symbol)
	}

	modules := make([]string, 0, len(missing))
	for module := range missing {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	for _, module := range modules {
		symbols := missing[module]
		sort.Strings(symbols)
		var changed bool
		src, changed = addToExistingImport(src, module, symbols)
		if !changed {
			src = prependImport(src, fmt.Sprintf("import {%s} from '%s';", strings.Join(symbols, ", "), module))
		}
		issues = append(issues, Issue{
			Pass:    "imports",
			Message: fmt.Sprintf("added missing import of %s from %s", strings.Join(symbols, ", "), module),
		})
	}

	// JSX without the jsx runtime module in scope will not compile under the
	// classic transform the renderer template uses.
	if jsxElementPattern.MatchString(src) && imported["React"] == "" && !regexp.MustCompile(`import\s+React\b`).MatchString(src) {
		src = prependImport(src, "import React from 'react';")
		issues = append(issues, Issue{Pass: "imports", Message: "injected React import for JSX"})
	}

	return src, issues
}

// applyDeprecatedRewrites migrates renamed/moved symbols. Both the import
// statement and the call sites are rewritten.
func applyDeprecatedRewrites(src string) (string, []Issue) {
	var issues []Issue
	for _, rw := range deprecatedRewrites {
		where := importedSymbols(src)
		module, ok := where[rw.oldSymbol]
		if !ok || module == "" {
			continue
		}
		if rw.oldSymbol == rw.newSymbol && module == rw.module {
			continue // already in the right shape
		}
		if rw.oldSymbol == "Config" && module != "remotion" {
			continue // only the root-module Config import is deprecated
		}

		src = removeFromImport(src, module, rw.oldSymbol)
		src = addImportLine(src, rw.newSymbol, rw.module)
		if rw.oldSymbol != rw.newSymbol {
			src = renameSymbol(src, rw.oldSymbol, rw.newSymbol)
		}
		issues = append(issues, Issue{Pass: "imports", Message: rw.reason})
	}
	return src, issues
}

// importedSymbols maps each imported symbol to its source module.
func importedSymbols(src string) map[string]string {
	out := make(map[string]string)
	for _, m := range namedImportPattern.FindAllStringSubmatch(src, -1) {
		module := m[2]
		for _, part := range strings.Split(m[1], ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			// Honor "Foo as Bar" aliases: the local name is what matters.
			if idx := strings.Index(name, " as "); idx >= 0 {
				name = strings.TrimSpace(name[idx+4:])
			}
			out[name] = module
		}
	}
	for _, m := range defaultImportPattern.FindAllStringSubmatch(src, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// localDefinitions collects top-level names defined in the source itself.
func localDefinitions(src string) map[string]bool {
	out := make(map[string]bool)
	pattern := regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var|function|class|interface|type)\s+([\w$]+)`)
	for _, m := range pattern.FindAllStringSubmatch(src, -1) {
		out[m[1]] = true
	}
	return out
}

// symbolUsed reports whether symbol appears in src outside import statements.
func symbolUsed(src, symbol string) bool {
	stripped := namedImportPattern.ReplaceAllString(src, "")
	stripped = defaultImportPattern.ReplaceAllString(stripped, "")
	idx := 0
	for {
		pos := strings.Index(stripped[idx:], symbol)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isIdentByte(stripped[pos-1])
		afterIdx := pos + len(symbol)
		after := afterIdx >= len(stripped) || !isIdentByte(stripped[afterIdx])
		if before && after {
			return true
		}
		idx = pos + len(symbol)
	}
}

// addToExistingImport merges symbols into an existing named import from
// module. Reports whether a merge happened.
func addToExistingImport(src, module string, symbols []string) (string, bool) {
	locs := namedImportPattern.FindAllStringSubmatchIndex(src, -1)
	for _, loc := range locs {
		gotModule := src[loc[4]:loc[5]]
		if gotModule != module {
			continue
		}
		existing := src[loc[2]:loc[3]]
		merged := strings.TrimSpace(existing)
		for _, symbol := range symbols {
			merged = merged + ", " + symbol
		}
		merged = strings.TrimPrefix(merged, ", ")
		return src[:loc[2]] + merged + src[loc[3]:], true
	}
	return src, false
}

// addImportLine ensures symbol is imported from module, merging when possible.
func addImportLine(src, symbol, module string) string {
	if importedSymbols(src)[symbol] == module {
		return src
	}
	merged, ok := addToExistingImport(src, module, []string{symbol})
	if ok {
		return merged
	}
	return prependImport(src, fmt.Sprintf("import {%s} from '%s';", symbol, module))
}

// removeFromImport deletes symbol from the named import of module; an import
// left empty is removed entirely.
func removeFromImport(src, module, symbol string) string {
	locs := namedImportPattern.FindAllStringSubmatchIndex(src, -1)
	for _, loc := range locs {
		if src[loc[4]:loc[5]] != module {
			continue
		}
		parts := strings.Split(src[loc[2]:loc[3]], ",")
		kept := parts[:0]
		for _, part := range parts {
			if strings.TrimSpace(part) != symbol {
				kept = append(kept, part)
			}
		}
		if len(kept) == 0 {
			// Drop the whole statement including its trailing newline.
			end := loc[1]
			if end < len(src) && src[end] == '\n' {
				end++
			}
			return src[:loc[0]] + src[end:]
		}
		joined := strings.TrimSpace(strings.Join(kept, ","))
		return src[:loc[2]] + joined + src[loc[3]:]
	}
	return src
}

// prependImport inserts line after the last existing import, or at the top.
func prependImport(src, line string) string {
	locs := namedImportPattern.FindAllStringIndex(src, -1)
	defLocs := defaultImportPattern.FindAllStringIndex(src, -1)
	last := 0
	for _, loc := range append(locs, defLocs...) {
		if loc[1] > last {
			last = loc[1]
		}
	}
	if last == 0 {
		return line + "\n" + src
	}
	insert := last
	if insert < len(src) && src[insert] == '\n' {
		insert++
	}
	return src[:insert] + line + "\n" + src[insert:]
}

// renameSymbol rewrites whole-identifier occurrences of old to new.
func renameSymbol(src, old, new string) string {
	var b strings.Builder
	b.Grow(len(src))
	i := 0
	for i < len(src) {
		pos := strings.Index(src[i:], old)
		if pos < 0 {
			b.WriteString(src[i:])
			break
		}
		pos += i
		before := pos == 0 || !isIdentByte(src[pos-1])
		afterIdx := pos + len(old)
		after := afterIdx >= len(src) || !isIdentByte(src[afterIdx])
		b.WriteString(src[i:pos])
		if before && after {
			b.WriteString(new)
		} else {
			b.WriteString(old)
		}
		i = pos + len(old)
	}
	return b.String()
}
