// Package validator makes composition source compile-clean through three
// deterministic passes: import validation, duplicate-export elimination, and
// interpolation range repair. Running the validator twice yields a fixed
// point.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"roughcut/internal/logging"
)

// Issue records one repair applied by a pass.
type Issue struct {
	Pass    string `json:"pass"`
	Message string `json:"message"`
}

// Report is the outcome of one validation run.
type Report struct {
	Source string  `json:"source"`
	Fixed  bool    `json:"fixed"`
	Issues []Issue `json:"issues,omitempty"`
	Diff   string  `json:"-"`
}

// Validator applies the repair passes in a fixed order.
type Validator struct {
	logger logging.Logger
}

// New creates a validator.
func New(logger logging.Logger) *Validator {
	return &Validator{logger: logging.OrNop(logger)}
}

// Validate runs all three passes in order and returns the repaired source.
// The input is never rejected: sources that match none of the scanners pass
// through unchanged.
func (v *Validator) Validate(source string) *Report {
	report := &Report{Source: source}

	out, issues := validateImports(source)
	report.Issues = append(report.Issues, issues...)

	out, issues = dedupeExports(out)
	report.Issues = append(report.Issues, issues...)

	out, issues = fixInterpolations(out)
	report.Issues = append(report.Issues, issues...)

	report.Fixed = out != source
	report.Source = out

	if report.Fixed {
		report.Diff = repairDiff(source, out)
		v.logger.Info("validator applied %d repair(s)", len(report.Issues))
		for _, issue := range report.Issues {
			v.logger.Debug("repair [%s]: %s", issue.Pass, issue.Message)
		}
		v.logger.Debug("repair diff:\n%s", report.Diff)
	}
	return report
}

// repairDiff renders a compact line diff of the repairs for the log.
func repairDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	beforeRunes, afterRunes, lines := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(beforeRunes, afterRunes, false), lines)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			for _, line := range nonEmptyLines(d.Text) {
				fmt.Fprintf(&b, "+ %s\n", line)
			}
		case diffmatchpatch.DiffDelete:
			for _, line := range nonEmptyLines(d.Text) {
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
	}
	return b.String()
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

var (
	returnPattern      = regexp.MustCompile(`\breturn\b`)
	jsxPattern         = regexp.MustCompile(`<[A-Za-z][\w.]*[\s/>]`)
	declarationPattern = regexp.MustCompile(`\b(?:function\s+[\w$]+|const\s+[\w$]+\s*(?::[^=]+)?=|[\w$]+\s*=>)`)
	exportPattern      = regexp.MustCompile(`(?m)^export\b`)
)

// StructureCheck is the lightweight sanity gate the transform pipeline runs
// on cleaned output before exporting it.
type StructureCheck struct {
	HasReturn      bool `json:"hasReturn"`
	HasJSX         bool `json:"hasJsx"`
	HasDeclaration bool `json:"hasDeclaration"`
	BraceDelta     int  `json:"braceDelta"`
	HasExport      bool `json:"hasExport"`
}

// OK reports whether the structure is plausible component source. Brace
// imbalance within ±2 is tolerated; the validator passes repair the rest.
func (c StructureCheck) OK() bool {
	if !c.HasReturn || !c.HasJSX || !c.HasDeclaration {
		return false
	}
	return c.BraceDelta >= -2 && c.BraceDelta <= 2
}

// CheckStructure runs the structural probes over source.
func CheckStructure(source string) StructureCheck {
	return StructureCheck{
		HasReturn:      returnPattern.MatchString(source),
		HasJSX:         jsxPattern.MatchString(source),
		HasDeclaration: declarationPattern.MatchString(source),
		BraceDelta:     braceBalance(source),
		HasExport:      exportPattern.MatchString(source),
	}
}
