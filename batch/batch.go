// Package batch applies one watermark to many PDF documents with a bounded
// pool of workers.
//
// A failing document never stops the others: every input gets exactly one
// Outcome in the Result, in completion order. When more than one document is
// processed the overlay is built once and shared read-only by all workers.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/compose"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/pageops"
	"github.com/lvillar/pdfmark/progress"
)

// State is the lifecycle state of an item.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

// Mode selects how documents are watermarked.
type Mode int

const (
	// ModeGraft adds the overlay to the original object graph.
	ModeGraft Mode = iota
	// ModeFlatten re-renders each page as an imported template.
	ModeFlatten
)

func (m Mode) String() string {
	if m == ModeFlatten {
		return "flatten"
	}
	return "graft"
}

// ParseMode parses "graft" or "flatten". The empty string means ModeGraft.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "graft":
		return ModeGraft, nil
	case "flatten":
		return ModeFlatten, nil
	}
	return 0, pdfmark.Errorf(pdfmark.ErrInvalidSpec, "parse mode", "", "unknown mode %q", s)
}

// Collision decides what happens when two inputs map to the same output file.
type Collision int

const (
	// CollisionOverwrite lets the last writer win.
	CollisionOverwrite Collision = iota
	// CollisionError fails every later duplicate before it is dispatched.
	CollisionError
	// CollisionUniquify appends _2, _3, ... to later duplicates, in input
	// order. Only names assigned within the run count; files already in the
	// output directory are overwritten. A later input whose own name equals
	// an earlier uniquified one is suffixed again: x.pdf, x.pdf, x_2.pdf
	// map to x.pdf, x_2.pdf, x_2_2.pdf.
	CollisionUniquify
)

// ParseCollision parses "overwrite", "error" or "uniquify". The empty string
// means CollisionOverwrite.
func ParseCollision(s string) (Collision, error) {
	switch strings.ToLower(s) {
	case "", "overwrite":
		return CollisionOverwrite, nil
	case "error":
		return CollisionError, nil
	case "uniquify":
		return CollisionUniquify, nil
	}
	return 0, pdfmark.Errorf(pdfmark.ErrInvalidSpec, "parse collision", "", "unknown collision policy %q", s)
}

// Source is the watermark a batch applies: either a Spec to build or the
// path of a prebuilt overlay PDF.
type Source struct {
	Spec        *pdfmark.Spec
	OverlayPath string
}

// FromSpec returns a Source that builds the overlay from s.
func FromSpec(s pdfmark.Spec) Source { return Source{Spec: &s} }

// FromOverlay returns a Source that uses the first page of the PDF at path.
func FromOverlay(path string) Source { return Source{OverlayPath: path} }

// Item is one document of a batch.
type Item struct {
	ID     string
	Index  int // 1-based position in the input list
	Input  string
	Output string
}

// Outcome is the terminal record of an item.
type Outcome struct {
	Item
	State    State // Succeeded or Failed
	Err      error
	Pages    int
	Bytes    int64
	Duration time.Duration
}

// Result collects the outcomes of a run in completion order.
type Result struct {
	RunID     string
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Failures returns the failed outcomes.
func (r *Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.State == Failed {
			out = append(out, o)
		}
	}
	return out
}

// DefaultPrefix is prepended to input base names to form output names.
const DefaultPrefix = "watermarked_"

// Driver runs batches. It holds configuration only and may run several
// batches concurrently.
type Driver struct {
	concurrency int
	prefix      string
	collision   Collision
	mode        Mode
	fit         compose.Fit
	verify      bool
	sink        progress.Sink
	builder     *overlay.Builder
	scratchDir  string
}

// Option configures a Driver.
type Option func(*Driver)

// WithConcurrency sets the number of documents processed at once. Values
// below 1 mean 1. Default 4.
func WithConcurrency(n int) Option {
	return func(d *Driver) { d.concurrency = max(n, 1) }
}

// WithPrefix sets the output file name prefix. Default DefaultPrefix.
func WithPrefix(p string) Option {
	return func(d *Driver) { d.prefix = p }
}

// WithCollision sets the output name collision policy.
func WithCollision(c Collision) Option {
	return func(d *Driver) { d.collision = c }
}

// WithMode sets the watermarking mode. Default ModeGraft.
func WithMode(m Mode) Option {
	return func(d *Driver) { d.mode = m }
}

// WithFit sets the overlay placement for ModeGraft.
func WithFit(f compose.Fit) Option {
	return func(d *Driver) { d.fit = f }
}

// WithVerify reopens each output with an independent parser before commit.
func WithVerify(v bool) Option {
	return func(d *Driver) { d.verify = v }
}

// WithSink sets where progress events go. Default progress.Discard.
func WithSink(s progress.Sink) Option {
	return func(d *Driver) {
		if s != nil {
			d.sink = s
		}
	}
}

// WithBuilder sets the overlay builder used for Spec sources.
func WithBuilder(b *overlay.Builder) Option {
	return func(d *Driver) {
		if b != nil {
			d.builder = b
		}
	}
}

// WithScratchDir sets the directory for the staged overlay of flattened
// runs. Default os.TempDir.
func WithScratchDir(dir string) Option {
	return func(d *Driver) { d.scratchDir = dir }
}

// New returns a Driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		concurrency: 4,
		prefix:      DefaultPrefix,
		sink:        progress.Discard,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.builder == nil {
		d.builder = overlay.NewBuilder()
	}
	return d
}

// run is the per-call state of Driver.Run.
type run struct {
	*Driver
	id      string
	total   int
	src     Source
	results chan Outcome

	shared      *overlay.Page // nil when each item builds its own
	sharedPath  string        // flattened mode: staged or prebuilt overlay file
	sharedErr   error         // fails every item when set
	cleanupOnce sync.Once
	cleanup     func()
}

// Run watermarks every input into outDir and returns one Outcome per input.
// It never returns early on item failures. Cancelling ctx stops dispatch:
// items already running finish, the rest fail with the context error.
func (d *Driver) Run(ctx context.Context, inputs []string, outDir string, src Source) *Result {
	start := time.Now()
	r := &run{
		Driver:  d,
		id:      uuid.NewString(),
		total:   len(inputs),
		src:     src,
		results: make(chan Outcome, len(inputs)),
		cleanup: func() {},
	}
	defer r.releaseScratch()

	items, rejected := d.plan(inputs, outDir)
	for _, it := range items {
		r.publish(it, Pending, nil, 0, 0)
	}

	if len(items) > 0 {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			r.sharedErr = pdfmark.NewError(pdfmark.ErrIO, "batch", outDir, err)
		} else {
			r.prepare()
		}
	}

	sem := semaphore.NewWeighted(int64(d.concurrency))
	var wg sync.WaitGroup
	for _, it := range items {
		if err, ok := rejected[it.Index]; ok {
			r.finish(it, time.Now(), pageops.Result{}, err)
			continue
		}
		if r.sharedErr != nil {
			r.finish(it, time.Now(), pageops.Result{}, r.sharedErr)
			continue
		}
		if err := ctx.Err(); err != nil {
			r.finish(it, time.Now(), pageops.Result{}, fmt.Errorf("batch: not dispatched: %w", err))
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			r.finish(it, time.Now(), pageops.Result{}, fmt.Errorf("batch: not dispatched: %w", err))
			continue
		}
		wg.Add(1)
		go func(it Item) {
			defer wg.Done()
			defer sem.Release(1)
			r.process(it)
		}(it)
	}
	wg.Wait()
	close(r.results)
	r.releaseScratch()

	res := &Result{RunID: r.id, Outcomes: make([]Outcome, 0, len(items))}
	for o := range r.results {
		res.Outcomes = append(res.Outcomes, o)
		if o.State == Succeeded {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	res.Duration = time.Since(start)
	d.sink.Publish(progress.Event{
		Type:      progress.TypeRun,
		RunID:     r.id,
		Total:     r.total,
		State:     "completed",
		Time:      time.Now(),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	})
	return res
}

// plan derives the output path of every input and applies the collision
// policy. Items rejected by CollisionError are returned with their error.
func (d *Driver) plan(inputs []string, outDir string) ([]Item, map[int]error) {
	items := make([]Item, len(inputs))
	rejected := make(map[int]error)
	seen := make(map[string]int)
	for i, in := range inputs {
		out := filepath.Join(outDir, d.prefix+filepath.Base(in))
		key := filepath.Clean(out)
		if n := seen[key]; n > 0 {
			switch d.collision {
			case CollisionError:
				rejected[i+1] = pdfmark.Errorf(pdfmark.ErrIO, "batch", out,
					"output name collides with an earlier input")
			case CollisionUniquify:
				out = uniqueName(out, seen)
			}
		}
		seen[filepath.Clean(out)]++
		items[i] = Item{ID: uuid.NewString(), Index: i + 1, Input: in, Output: out}
	}
	return items, rejected
}

// uniqueName returns path with the first free _N suffix, N >= 2.
func uniqueName(path string, seen map[string]int) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 2; ; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		if seen[filepath.Clean(candidate)] == 0 {
			return candidate
		}
	}
}

// prepare loads or builds the shared overlay. In flattened mode it is also
// staged to a file, which releaseScratch removes.
func (r *run) prepare() {
	switch {
	case r.src.OverlayPath != "":
		ov, err := overlay.Load(r.src.OverlayPath)
		if err != nil {
			r.sharedErr = err
			return
		}
		r.shared = ov
		r.sharedPath = r.src.OverlayPath
		return
	case r.src.Spec == nil:
		r.sharedErr = pdfmark.Errorf(pdfmark.ErrInvalidSpec, "batch", "", "no watermark spec or overlay")
		return
	case r.total == 1:
		// A single item builds its own overlay.
		return
	}

	ov, err := r.builder.Build(*r.src.Spec)
	if err != nil {
		r.sharedErr = err
		return
	}
	r.shared = ov
	if r.mode == ModeFlatten {
		path, cleanup, err := pageops.StageOverlay(ov, r.scratchDir)
		if err != nil {
			r.sharedErr = err
			return
		}
		r.sharedPath, r.cleanup = path, cleanup
	}
}

// releaseScratch removes the staged overlay, once.
func (r *run) releaseScratch() {
	r.cleanupOnce.Do(func() { r.cleanup() })
}

// process runs one item to a terminal state. Panics are recorded as
// failures of that item.
func (r *run) process(it Item) {
	start := time.Now()
	r.publish(it, Running, nil, 0, 0)

	var res pageops.Result
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("batch: processing %s: panic: %v", it.Input, p)
			res = pageops.Result{}
		}
		r.finish(it, start, res, err)
	}()

	opts := []pageops.Option{
		pageops.WithFit(r.fit),
		pageops.WithVerify(r.verify),
	}
	ov := r.shared
	if ov == nil {
		if ov, err = r.builder.Build(*r.src.Spec); err != nil {
			err = pdfmark.WithPath(err, it.Input)
			return
		}
	}
	switch r.mode {
	case ModeFlatten:
		path := r.sharedPath
		if path == "" {
			var cleanup func()
			if path, cleanup, err = pageops.StageOverlay(ov, r.scratchDir); err != nil {
				return
			}
			defer cleanup()
		}
		res, err = pageops.ApplyFlattenedFile(it.Input, it.Output, path, opts...)
	default:
		res, err = pageops.Apply(it.Input, it.Output, ov, opts...)
	}
}

func (r *run) finish(it Item, start time.Time, res pageops.Result, err error) {
	o := Outcome{Item: it, State: Succeeded, Pages: res.Pages, Bytes: res.Bytes, Duration: time.Since(start)}
	if err != nil {
		o.State, o.Pages, o.Bytes = Failed, 0, 0
		o.Err = err
	}
	r.results <- o
	r.publish(it, o.State, err, o.Pages, o.Bytes)
}

func (r *run) publish(it Item, state State, err error, pages int, n int64) {
	e := progress.Event{
		Type:   progress.TypeItem,
		RunID:  r.id,
		ItemID: it.ID,
		Index:  it.Index,
		Total:  r.total,
		Input:  it.Input,
		Output: it.Output,
		State:  string(state),
		Pages:  pages,
		Bytes:  n,
		Time:   time.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.sink.Publish(e)
}
