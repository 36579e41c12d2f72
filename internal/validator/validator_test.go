package validator

import (
	"strings"
	"testing"
)

func TestFixInterpolationsRewritesNonMonotonicInput(t *testing.T) {
	src := `const opacity = interpolate(frame, [0, 10, 10, 5], [0, 1, 1, 0]);`
	out, issues := fixInterpolations(src)
	if !strings.Contains(out, "[0, 10, 11, 12]") {
		t.Fatalf("input range not repaired:\n%s", out)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}
}

func TestFixInterpolationsResizesOutputRange(t *testing.T) {
	src := `interpolate(frame, [0, 10, 20], [0, 1]);`
	out, _ := fixInterpolations(src)
	if !strings.Contains(out, "[0, 1, 1]") {
		t.Fatalf("output range not re-zipped:\n%s", out)
	}
}

func TestFixInterpolationsLeavesNonLiteralRangesAlone(t *testing.T) {
	src := `interpolate(frame, inputRange, [0, 1]);`
	out, issues := fixInterpolations(src)
	if out != src || len(issues) != 0 {
		t.Fatalf("non-literal range was modified: %q", out)
	}
}

func TestFixInterpolationsIgnoresInterpolateColors(t *testing.T) {
	src := `const c = interpolateColors(frame, [0, 10, 10], ['red', 'blue', 'red']);`
	out, issues := fixInterpolations(src)
	if out != src || len(issues) != 0 {
		t.Fatalf("interpolateColors was rewritten: %q", out)
	}
}

func TestDedupeExportsKeepsLast(t *testing.T) {
	src := strings.Join([]string{
		`export const Title = () => <div>first</div>;`,
		``,
		`export const Title = () => <div>second</div>;`,
	}, "\n")
	out, issues := dedupeExports(src)
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}
	if !strings.Contains(out, `// export const Title = () => <div>first</div>;`) {
		t.Fatalf("earlier export not commented out:\n%s", out)
	}
	if !strings.Contains(out, "\nexport const Title = () => <div>second</div>;") {
		t.Fatalf("last export was not kept:\n%s", out)
	}
}

func TestDedupeExportsCommentsWholeFunctionBlock(t *testing.T) {
	src := strings.Join([]string{
		`export function Scene() {`,
		`  return <div />;`,
		`}`,
		`export function Scene() {`,
		`  return <span />;`,
		`}`,
	}, "\n")
	out, _ := dedupeExports(src)
	// Every line of the first block must be disarmed or the orphan closing
	// brace breaks the module.
	if !strings.Contains(out, "// export function Scene() {") {
		t.Fatalf("block header not commented:\n%s", out)
	}
	if strings.Count(out, "// ") < 3 {
		t.Fatalf("block body not fully commented:\n%s", out)
	}
}

func TestValidateImportsAddsMissingRendererSymbols(t *testing.T) {
	src := `export const Comp = () => <AbsoluteFill><Sequence from={0} /></AbsoluteFill>;`
	out, issues := validateImports(src)
	if !strings.Contains(out, "from 'remotion'") {
		t.Fatalf("remotion import not injected:\n%s", out)
	}
	if !strings.Contains(out, "AbsoluteFill") || !strings.Contains(out, "Sequence") {
		t.Fatalf("missing symbols not imported:\n%s", out)
	}
	if !strings.Contains(out, "import React from 'react';") {
		t.Fatalf("React import not injected for JSX:\n%s", out)
	}
	if len(issues) == 0 {
		t.Fatal("expected repair issues")
	}
}

func TestValidateImportsMergesIntoExistingImport(t *testing.T) {
	src := "import {AbsoluteFill} from 'remotion';\n" +
		`export const Comp = () => <AbsoluteFill>{interpolate(f, [0, 1], [0, 1])}</AbsoluteFill>;`
	out, _ := validateImports(src)
	if strings.Count(out, "from 'remotion'") != 1 {
		t.Fatalf("expected a single merged remotion import:\n%s", out)
	}
	if !strings.Contains(out, "interpolate") {
		t.Fatalf("interpolate not merged into import:\n%s", out)
	}
}

func TestValidateImportsRewritesDeprecatedShapes(t *testing.T) {
	src := "import {MotionBlur} from '@remotion/motion-blur';\n" +
		`export const Comp = () => <MotionBlur><div /></MotionBlur>;`
	out, issues := validateImports(src)
	if strings.Contains(out, "MotionBlur") {
		t.Fatalf("deprecated symbol survived:\n%s", out)
	}
	if !strings.Contains(out, "Trail") {
		t.Fatalf("renamed symbol missing:\n%s", out)
	}
	if len(issues) == 0 {
		t.Fatal("expected a rewrite issue")
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	v := New(nil)
	src := strings.Join([]string{
		`export const Title = () => <div>a</div>;`,
		`export const Title = () => <AbsoluteFill>{interpolate(f, [0, 5, 5], [0, 1, 1])}</AbsoluteFill>;`,
	}, "\n")

	first := v.Validate(src)
	if !first.Fixed {
		t.Fatal("first run should repair")
	}
	second := v.Validate(first.Source)
	if second.Fixed {
		t.Fatalf("second run not a fixed point, issues: %+v\n%s", second.Issues, second.Source)
	}
}

func TestCheckStructure(t *testing.T) {
	good := `import React from 'react';
const Comp = () => {
  return <div>hi</div>;
};
export default Comp;`
	if check := CheckStructure(good); !check.OK() {
		t.Fatalf("plausible component rejected: %+v", check)
	}

	truncated := `const Comp = () => {
  return <div>{{{{`
	if check := CheckStructure(truncated); check.OK() {
		t.Fatalf("brace-imbalanced source accepted: %+v", check)
	}

	prose := "Here is your composition, it fades in over ten frames."
	if check := CheckStructure(prose); check.OK() {
		t.Fatalf("prose accepted as component: %+v", check)
	}
}

func TestValidateReportsDiff(t *testing.T) {
	v := New(nil)
	report := v.Validate(`export const A = () => <p>one</p>;` + "\n" + `export const A = () => <p>two</p>;`)
	if !report.Fixed {
		t.Fatal("expected a repair")
	}
	if report.Diff == "" {
		t.Fatal("expected a rendered diff")
	}
}
