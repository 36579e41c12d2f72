// Package transform runs composition source through a staged, resumable
// pipeline: backup, cleaning, validation, export normalization, file writing.
// Long inputs are processed in chunks; near the stage budget the pipeline
// persists a checkpoint and pauses instead of blocking the host channel.
package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"roughcut/internal/checkpoint"
	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
	"roughcut/internal/project"
	"roughcut/internal/validator"
)

const (
	// DefaultChunkSize is the slice length cleaning operates on.
	DefaultChunkSize = 500
	// DefaultYieldEvery is how many chunks run between checkpoint/budget checks.
	DefaultYieldEvery = 3
	// DefaultStageBudget bounds one pipeline invocation.
	DefaultStageBudget = 8 * time.Second

	// safetyMargin pauses slightly before the budget so the checkpoint write
	// itself never exceeds it.
	safetyMargin = 500 * time.Millisecond
)

// Progress bands per stage; cleaning interpolates within its band.
const (
	progressBackup     = 5.0
	progressCleaningLo = 5.0
	progressCleaningHi = 60.0
	progressValidation = 70.0
	progressExport     = 85.0
	progressWriting    = 95.0
)

// Options tune the pipeline; zero values take defaults.
type Options struct {
	ChunkSize    int
	YieldEvery   int
	StageBudget  time.Duration
	BackupRetain int
}

// Request describes one transform invocation. A non-empty OperationID resumes
// the matching checkpoint; an empty one starts a fresh operation.
type Request struct {
	OperationID string
	ProjectName string
	ProjectPath string // empty skips backup and file writing
	Source      string
}

// Result is the outcome of a completed transform.
type Result struct {
	OperationID string            `json:"operationId"`
	Output      string            `json:"output"`
	BackupPath  string            `json:"backupPath,omitempty"`
	WrittenPath string            `json:"writtenPath,omitempty"`
	Repairs     []validator.Issue `json:"repairs,omitempty"`
	Resumed     bool              `json:"resumed"`
}

// Pipeline drives the staged transform. Safe for concurrent use as long as
// distinct operations target distinct projects.
type Pipeline struct {
	store     *checkpoint.Store
	validator *validator.Validator
	logger    logging.Logger
	opts      Options

	now func() time.Time
}

// New creates a pipeline over the given checkpoint store.
func New(store *checkpoint.Store, v *validator.Validator, logger logging.Logger, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = DefaultYieldEvery
	}
	if opts.StageBudget <= 0 {
		opts.StageBudget = DefaultStageBudget
	}
	return &Pipeline{
		store:     store,
		validator: v,
		logger:    logging.OrNop(logger),
		opts:      opts,
		now:       time.Now,
	}
}

// state is the in-flight operation, either fresh or rehydrated.
type state struct {
	cp      *checkpoint.Checkpoint
	chunks  []string
	resumed bool
	backup  string
	written string
	repairs []validator.Issue
}

// Transform runs the pipeline until completion or pause. A returned
// *rcerrors.ResumableTimeoutError is a pause, not a failure: calling again
// with the same operation id resumes from the persisted checkpoint.
func (p *Pipeline) Transform(ctx context.Context, req Request) (*Result, error) {
	st, err := p.rehydrate(req)
	if err != nil {
		return nil, err
	}
	deadline := p.now().Add(p.opts.StageBudget)

	for st.cp.Stage != checkpoint.StageCompleted {
		if err := ctx.Err(); err != nil {
			p.persist(st)
			return nil, rcerrors.Wrap(err, rcerrors.KindResumableTimeout, "transform", string(st.cp.Stage), "transform canceled")
		}
		if p.overBudget(deadline) {
			return nil, p.pause(st)
		}

		var stageErr error
		switch st.cp.Stage {
		case checkpoint.StageBackup:
			stageErr = p.runBackup(st, req)
		case checkpoint.StageJSXCleaning:
			stageErr = p.runCleaning(st, deadline)
		case checkpoint.StageJSXValidation:
			stageErr = p.runValidation(st)
		case checkpoint.StageJSXExport:
			stageErr = p.runExport(st)
		case checkpoint.StageFileWriting:
			stageErr = p.runWriting(st, req)
		default:
			stageErr = rcerrors.New(rcerrors.KindValidation, "transform", "run",
				fmt.Sprintf("unknown stage %s", st.cp.Stage))
		}
		if stageErr != nil {
			return nil, stageErr
		}
	}

	if err := p.store.Remove(st.cp.OperationID); err != nil {
		p.logger.Warn("completed checkpoint %s not removed: %v", st.cp.OperationID, err)
	}
	p.logger.Info("transform %s completed (%d chunk(s), resumed=%v)",
		st.cp.OperationID, st.cp.TotalChunks, st.resumed)

	return &Result{
		OperationID: st.cp.OperationID,
		Output:      st.cp.Output,
		BackupPath:  st.backup,
		WrittenPath: st.written,
		Repairs:     st.repairs,
		Resumed:     st.resumed,
	}, nil
}

// rehydrate loads the checkpoint for a resume, or builds fresh state.
func (p *Pipeline) rehydrate(req Request) (*state, error) {
	if req.OperationID != "" {
		if cp := p.store.Get(req.OperationID); cp != nil {
			// Resumption depends only on the checkpoint; a differing source
			// on the retry is ignored in favor of the original.
			if req.Source != "" && req.Source != cp.Original {
				p.logger.Warn("resume of %s supplied different source; using checkpointed original", req.OperationID)
			}
			st := &state{cp: cp, chunks: chunkify(cp.Original, p.opts.ChunkSize), resumed: true}
			if len(cp.Shards) != cp.ChunkIndex {
				p.logger.Warn("checkpoint %s shard count %d does not match chunk index %d; restarting cleaning from zero",
					cp.OperationID, len(cp.Shards), cp.ChunkIndex)
				cp.Shards = nil
				cp.ChunkIndex = 0
				cp.Stage = checkpoint.StageJSXCleaning
				cp.Progress = progressCleaningLo
			}
			return st, nil
		}
		p.logger.Info("no checkpoint for %s; starting fresh", req.OperationID)
	}

	if strings.TrimSpace(req.Source) == "" {
		return nil, rcerrors.New(rcerrors.KindValidation, "transform", "start", "empty composition source")
	}

	id := req.OperationID
	if id == "" {
		id = uuid.NewString()
	}
	chunks := chunkify(req.Source, p.opts.ChunkSize)
	return &state{
		cp: &checkpoint.Checkpoint{
			OperationID: id,
			ProjectName: req.ProjectName,
			Stage:       checkpoint.StageBackup,
			Original:    req.Source,
			TotalChunks: len(chunks),
		},
		chunks: chunks,
	}, nil
}

func (p *Pipeline) runBackup(st *state, req Request) error {
	if req.ProjectPath != "" {
		path, err := project.Backup(req.ProjectPath, p.opts.BackupRetain)
		if err != nil {
			return rcerrors.Wrap(err, rcerrors.KindFilesystem, "transform", "backup", "back up existing composition")
		}
		st.backup = path
	}
	st.cp.Stage = checkpoint.StageJSXCleaning
	st.cp.Progress = progressBackup
	p.persist(st)
	return nil
}

// runCleaning processes chunks from the checkpointed index, persisting and
// checking the budget every YieldEvery chunks.
func (p *Pipeline) runCleaning(st *state, deadline time.Time) error {
	for st.cp.ChunkIndex < len(st.chunks) {
		st.cp.Shards = append(st.cp.Shards, cleanChunk(st.chunks[st.cp.ChunkIndex]))
		st.cp.ChunkIndex++

		if st.cp.ChunkIndex%p.opts.YieldEvery == 0 {
			st.cp.Progress = cleaningProgress(st.cp.ChunkIndex, len(st.chunks))
			p.persist(st)
			if p.overBudget(deadline) {
				return p.pause(st)
			}
		}
	}

	// Whole-output rewrites that cannot run per chunk.
	joined := strings.Join(st.cp.Shards, "")
	joined = stripCodeFences(joined)
	joined = normalizePropBodies(joined)

	report := p.validator.Validate(joined)
	st.repairs = append(st.repairs, report.Issues...)
	st.cp.Output = report.Source

	st.cp.Stage = checkpoint.StageJSXValidation
	st.cp.Progress = progressCleaningHi
	p.persist(st)
	return nil
}

// runValidation gates on the structural probes. Failure is terminal: the
// checkpoint is removed because retrying the same input cannot succeed.
func (p *Pipeline) runValidation(st *state) error {
	check := validator.CheckStructure(st.cp.Output)
	if !check.OK() {
		if err := p.store.Remove(st.cp.OperationID); err != nil {
			p.logger.Warn("failed checkpoint %s not removed: %v", st.cp.OperationID, err)
		}
		return rcerrors.New(rcerrors.KindValidation, "transform", "validate",
			"cleaned source is not a plausible component").
			WithDetail("hasReturn", check.HasReturn).
			WithDetail("hasJsx", check.HasJSX).
			WithDetail("hasDeclaration", check.HasDeclaration).
			WithDetail("braceDelta", check.BraceDelta).
			WithSuggestion(rcerrors.Suggestion{
				Action:   "Regenerate the composition source; the input is structurally incomplete",
				Priority: 1,
			})
	}
	st.cp.Stage = checkpoint.StageJSXExport
	st.cp.Progress = progressValidation
	p.persist(st)
	return nil
}

// runExport guarantees a default export so the renderer can load the module.
func (p *Pipeline) runExport(st *state) error {
	out, added := ensureDefaultExport(st.cp.Output)
	if added != "" {
		st.repairs = append(st.repairs, validator.Issue{
			Pass:    "export",
			Message: fmt.Sprintf("appended default export for %s", added),
		})
	}
	st.cp.Output = out
	st.cp.Stage = checkpoint.StageFileWriting
	st.cp.Progress = progressExport
	p.persist(st)
	return nil
}

func (p *Pipeline) runWriting(st *state, req Request) error {
	if req.ProjectPath != "" {
		dest, err := project.CompositionPath(req.ProjectPath)
		if err != nil {
			dest = filepath.Join(req.ProjectPath, "src", "VideoComposition.tsx")
			if mkErr := os.MkdirAll(filepath.Dir(dest), 0o755); mkErr != nil {
				return rcerrors.Wrap(mkErr, rcerrors.KindFilesystem, "transform", "write", "create src directory")
			}
		}
		if err := os.WriteFile(dest, []byte(st.cp.Output), 0o644); err != nil {
			return rcerrors.Wrap(err, rcerrors.KindFilesystem, "transform", "write", "write composition")
		}
		st.written = dest
	}
	st.cp.Stage = checkpoint.StageCompleted
	st.cp.Progress = 100
	return nil
}

func (p *Pipeline) overBudget(deadline time.Time) bool {
	return !p.now().Before(deadline.Add(-safetyMargin))
}

// pause persists the checkpoint and returns the resumable signal.
func (p *Pipeline) pause(st *state) error {
	p.persist(st)
	p.logger.Info("transform %s paused at %s (chunk %d/%d)",
		st.cp.OperationID, st.cp.Stage, st.cp.ChunkIndex, st.cp.TotalChunks)
	return &rcerrors.ResumableTimeoutError{
		OperationID: st.cp.OperationID,
		Stage:       string(st.cp.Stage),
		ChunkIndex:  st.cp.ChunkIndex,
		Progress:    st.cp.Progress,
	}
}

func (p *Pipeline) persist(st *state) {
	if err := p.store.Put(st.cp); err != nil {
		p.logger.Error("checkpoint persist for %s failed: %v", st.cp.OperationID, err)
	}
}

func cleaningProgress(done, total int) float64 {
	if total == 0 {
		return progressCleaningHi
	}
	return progressCleaningLo + (progressCleaningHi-progressCleaningLo)*float64(done)/float64(total)
}

// chunkify slices source into fixed-size pieces without splitting multi-byte
// runes, so per-chunk cleaning never sees a torn character.
func chunkify(source string, size int) []string {
	var chunks []string
	for len(source) > size {
		cut := size
		for cut > 0 && !isRuneStart(source[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, source[:cut])
		source = source[cut:]
	}
	if source != "" {
		chunks = append(chunks, source)
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ensureDefaultExport appends `export default X;` when the source has no
// default export, picking the last declared component-looking identifier.
// Returns the possibly-modified source and the exported name ("" when no
// change was needed or no candidate exists).
func ensureDefaultExport(src string) (string, string) {
	if strings.Contains(src, "export default") {
		return src, ""
	}
	name := lastComponentName(src)
	if name == "" {
		return src, ""
	}
	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	return src + "\nexport default " + name + ";\n", name
}

// lastComponentName finds the last top-level `function X` or `const X =`
// whose name starts uppercase, the React component convention.
func lastComponentName(src string) string {
	name := ""
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "export ")
		var candidate string
		switch {
		case strings.HasPrefix(trimmed, "function "):
			candidate = identAfter(trimmed, "function ")
		case strings.HasPrefix(trimmed, "const "):
			rest := trimmed[len("const "):]
			if eq := strings.IndexAny(rest, "=:"); eq > 0 {
				candidate = strings.TrimSpace(rest[:eq])
			}
		}
		if candidate != "" && candidate[0] >= 'A' && candidate[0] <= 'Z' && isIdentifier(candidate) {
			name = candidate
		}
	}
	return name
}

func identAfter(s, prefix string) string {
	rest := s[len(prefix):]
	end := 0
	for end < len(rest) && (rest[end] == '_' || rest[end] == '$' ||
		rest[end] >= 'a' && rest[end] <= 'z' || rest[end] >= 'A' && rest[end] <= 'Z' ||
		rest[end] >= '0' && rest[end] <= '9') {
		end++
	}
	return rest[:end]
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return s != ""
}
