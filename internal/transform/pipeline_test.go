package transform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"roughcut/internal/checkpoint"
	rcerrors "roughcut/internal/errors"
	"roughcut/internal/validator"
)

const componentSource = `import React from 'react';
import {AbsoluteFill, interpolate, useCurrentFrame} from 'remotion';

const FadeIn = () => {
  const frame = useCurrentFrame();
  const opacity = interpolate(frame, [0, 30], [0, 1]);
  return (
    <AbsoluteFill style={{opacity}}>
      <h1>Hello</h1>
    </AbsoluteFill>
  );
};
`

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir(), nil, checkpoint.Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, validator.New(nil), nil, opts), store
}

func TestTransformCompletesAndAppendsDefaultExport(t *testing.T) {
	p, store := newTestPipeline(t, Options{})

	result, err := p.Transform(context.Background(), Request{Source: componentSource})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(result.Output, "export default FadeIn;") {
		t.Fatalf("default export not appended:\n%s", result.Output)
	}
	if result.Resumed {
		t.Fatal("fresh run reported as resumed")
	}
	// Completion removes the checkpoint.
	if cp := store.Get(result.OperationID); cp != nil {
		t.Fatalf("checkpoint survived completion: %+v", cp)
	}
}

func TestTransformPausesAndResumes(t *testing.T) {
	p, store := newTestPipeline(t, Options{ChunkSize: 16, YieldEvery: 1})

	// The clock jumps past the budget after a few chunks of work, so the
	// first invocation pauses mid-cleaning.
	base := time.Now()
	calls := 0
	p.now = func() time.Time {
		calls++
		if calls > 4 {
			return base.Add(time.Hour)
		}
		return base
	}

	_, err := p.Transform(context.Background(), Request{Source: componentSource})
	var pause *rcerrors.ResumableTimeoutError
	if !errors.As(err, &pause) {
		t.Fatalf("expected a resumable pause, got %v", err)
	}
	if pause.OperationID == "" {
		t.Fatal("pause carries no operation id")
	}
	if cp := store.Get(pause.OperationID); cp == nil {
		t.Fatal("pause did not persist a checkpoint")
	}

	p.now = time.Now
	result, err := p.Transform(context.Background(), Request{OperationID: pause.OperationID})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !result.Resumed {
		t.Fatal("resumed run not flagged")
	}
	if !strings.Contains(result.Output, "export default FadeIn;") {
		t.Fatalf("resumed output incomplete:\n%s", result.Output)
	}
}

func TestTransformResumeIgnoresDifferentSource(t *testing.T) {
	p, _ := newTestPipeline(t, Options{ChunkSize: 16, YieldEvery: 1})

	base := time.Now()
	calls := 0
	p.now = func() time.Time {
		calls++
		if calls > 4 {
			return base.Add(time.Hour)
		}
		return base
	}
	_, err := p.Transform(context.Background(), Request{Source: componentSource})
	var pause *rcerrors.ResumableTimeoutError
	if !errors.As(err, &pause) {
		t.Fatalf("expected a pause, got %v", err)
	}

	p.now = time.Now
	result, err := p.Transform(context.Background(), Request{
		OperationID: pause.OperationID,
		Source:      "const Other = () => <p>unrelated</p>;",
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !strings.Contains(result.Output, "FadeIn") {
		t.Fatalf("resume abandoned the checkpointed original:\n%s", result.Output)
	}
}

func TestTransformResetsOnShardMismatch(t *testing.T) {
	p, store := newTestPipeline(t, Options{ChunkSize: 16})

	// A checkpoint whose shard count disagrees with its chunk index cannot be
	// trusted; cleaning restarts from zero.
	cp := &checkpoint.Checkpoint{
		OperationID: "op-corrupt",
		Stage:       checkpoint.StageJSXCleaning,
		Original:    componentSource,
		ChunkIndex:  5,
		TotalChunks: len(chunkify(componentSource, 16)),
		Shards:      []string{"only-one"},
		Progress:    30,
	}
	if err := store.Put(cp); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := p.Transform(context.Background(), Request{OperationID: "op-corrupt"})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(result.Output, "export default FadeIn;") {
		t.Fatalf("reset run produced incomplete output:\n%s", result.Output)
	}
	if strings.Contains(result.Output, "only-one") {
		t.Fatal("stale shard leaked into output")
	}
}

func TestTransformRejectsEmptySource(t *testing.T) {
	p, _ := newTestPipeline(t, Options{})
	_, err := p.Transform(context.Background(), Request{Source: "   \n"})
	var be *rcerrors.BrokerError
	if !errors.As(err, &be) || be.Kind != rcerrors.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestTransformValidationFailureIsTerminal(t *testing.T) {
	p, store := newTestPipeline(t, Options{})
	_, err := p.Transform(context.Background(), Request{
		Source: "Sure! Here is a lovely fade-in animation for your video.",
	})
	var be *rcerrors.BrokerError
	if !errors.As(err, &be) || be.Kind != rcerrors.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
	// Retrying the same input cannot succeed, so nothing is kept.
	if ids := store.List(); len(ids) != 0 {
		t.Fatalf("terminal failure left checkpoints: %v", ids)
	}
}

func TestChunkifyNeverSplitsRunes(t *testing.T) {
	source := strings.Repeat("héllo wörld ", 40)
	chunks := chunkify(source, 7)
	if strings.Join(chunks, "") != source {
		t.Fatal("chunks do not reassemble to the source")
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d tears a rune: %q", i, chunk)
		}
	}
}

func TestEnsureDefaultExport(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"function declaration", "function Scene() {\n  return <div />;\n}\n", "Scene"},
		{"arrow const", "const TitleCard = () => <div />;\n", "TitleCard"},
		{"picks the last component", "const First = () => <a />;\nconst Second = () => <b />;\n", "Second"},
		{"lowercase is not a component", "const helper = () => 1;\n", ""},
		{"existing export untouched", "const A = () => <i />;\nexport default A;\n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, added := ensureDefaultExport(tc.src)
			if added != tc.want {
				t.Fatalf("added = %q, want %q", added, tc.want)
			}
			if tc.want != "" && !strings.Contains(out, "export default "+tc.want+";") {
				t.Fatalf("export not appended:\n%s", out)
			}
		})
	}
}

func TestCleanChunkNormalizations(t *testing.T) {
	in := "\uFEFFconst s = “hello”;\r\nconst d = 5–3;​"
	got := cleanChunk(in)
	want := "const s = \"hello\";\nconst d = 5-3;"
	if got != want {
		t.Fatalf("cleanChunk = %q, want %q", got, want)
	}
}

func TestStripCodeFences(t *testing.T) {
	in := "```tsx\nconst A = () => <div />;\n```"
	got := stripCodeFences(in)
	if strings.Contains(got, "```") {
		t.Fatalf("fences survived: %q", got)
	}
	if !strings.Contains(got, "const A") {
		t.Fatalf("body lost: %q", got)
	}
}

func TestNormalizePropBodiesDropsTrailingCommas(t *testing.T) {
	in := `<div style={{color: 'red', opacity: 1,}} />`
	got := normalizePropBodies(in)
	if strings.Contains(got, ",}") {
		t.Fatalf("trailing comma survived: %q", got)
	}
}
