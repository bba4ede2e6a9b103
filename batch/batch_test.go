package batch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"codeberg.org/go-pdf/fpdf"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/batch"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/progress"
	"github.com/lvillar/pdfmark/reader"
)

// createTestPDF writes an A4 document with the given number of pages.
func createTestPDF(t *testing.T, path string, pages int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 14)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Text(20, 30, fmt.Sprintf("%s page %d", filepath.Base(path), i))
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("creating test PDF: %v", err)
	}
}

func createInputs(t *testing.T, dir string, n int) []string {
	t.Helper()
	inputs := make([]string, n)
	for i := range inputs {
		inputs[i] = filepath.Join(dir, fmt.Sprintf("doc%d.pdf", i+1))
		createTestPDF(t, inputs[i], i%3+1)
	}
	return inputs
}

var spec = pdfmark.DefaultSpec("CONFIDENTIAL")

func outcomeFor(t *testing.T, res *batch.Result, input string) batch.Outcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.Input == input {
			return o
		}
	}
	t.Fatalf("no outcome for %s", input)
	return batch.Outcome{}
}

func TestRunNoInputs(t *testing.T) {
	res := batch.New().Run(context.Background(), nil, t.TempDir(), batch.FromSpec(spec))
	if len(res.Outcomes) != 0 || res.Succeeded != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
	if res.RunID == "" {
		t.Error("run has no ID")
	}
}

func TestRunSingle(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, filepath.Join(dir, "in"), 1)
	outDir := filepath.Join(dir, "out", "nested")

	res := batch.New().Run(context.Background(), inputs, outDir, batch.FromSpec(spec))
	if len(res.Outcomes) != 1 || res.Succeeded != 1 {
		t.Fatalf("result = %+v", res)
	}
	o := res.Outcomes[0]
	if o.State != batch.Succeeded || o.Err != nil {
		t.Fatalf("outcome = %+v", o)
	}
	if want := filepath.Join(outDir, "watermarked_doc1.pdf"); o.Output != want {
		t.Errorf("Output = %s, want %s", o.Output, want)
	}
	doc, err := reader.Open(o.Output)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if doc.NumPages() != 1 || o.Pages != 1 {
		t.Errorf("pages = %d (outcome %d), want 1", doc.NumPages(), o.Pages)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, dir, 5)
	if err := os.WriteFile(inputs[1], []byte("%PDF-1.4\ngarbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	inputs = append(inputs, filepath.Join(dir, "missing.pdf"))
	outDir := filepath.Join(dir, "out")

	res := batch.New(batch.WithConcurrency(3)).Run(context.Background(), inputs, outDir, batch.FromSpec(spec))
	if len(res.Outcomes) != len(inputs) {
		t.Fatalf("got %d outcomes, want %d", len(res.Outcomes), len(inputs))
	}
	if res.Succeeded != 4 || res.Failed != 2 {
		t.Errorf("succeeded %d failed %d, want 4 and 2", res.Succeeded, res.Failed)
	}

	corrupt := outcomeFor(t, res, inputs[1])
	if corrupt.State != batch.Failed || !errors.Is(corrupt.Err, pdfmark.ErrCorruptDocument) {
		t.Errorf("corrupt input outcome = %+v", corrupt)
	}
	missing := outcomeFor(t, res, inputs[5])
	if !errors.Is(missing.Err, pdfmark.ErrIO) || !errors.Is(missing.Err, os.ErrNotExist) {
		t.Errorf("missing input error = %v", missing.Err)
	}
	if _, err := os.Stat(corrupt.Output); !os.IsNotExist(err) {
		t.Error("failed item left an output file")
	}
	if got := len(res.Failures()); got != 2 {
		t.Errorf("Failures() has %d entries, want 2", got)
	}
}

// concurrencyProbe records the largest number of items running at once.
type concurrencyProbe struct {
	mu           sync.Mutex
	running, max int
}

func (p *concurrencyProbe) Publish(e progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.State {
	case string(batch.Running):
		p.running++
		p.max = max(p.max, p.running)
	case string(batch.Succeeded), string(batch.Failed):
		p.running--
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, filepath.Join(dir, "in"), 8)
	corrupt := filepath.Join(dir, "in", "corrupt.pdf")
	if err := os.WriteFile(corrupt, []byte("%PDF-1.4\nnot a document"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "in", "missing.pdf")
	all := append(slices.Clone(inputs), corrupt, missing)

	outputs := make(map[int][][]byte)
	states := make(map[int]map[string]batch.State)
	for _, n := range []int{1, 2, 8} {
		probe := &concurrencyProbe{}
		outDir := filepath.Join(dir, fmt.Sprintf("out%d", n))
		res := batch.New(batch.WithConcurrency(n), batch.WithSink(probe)).
			Run(context.Background(), all, outDir, batch.FromSpec(spec))
		if res.Succeeded != len(inputs) || res.Failed != 2 {
			t.Fatalf("concurrency %d: %d succeeded, %d failed: %v", n, res.Succeeded, res.Failed, res.Failures())
		}
		if probe.max > n {
			t.Errorf("concurrency %d: %d items ran at once", n, probe.max)
		}
		states[n] = make(map[string]batch.State)
		for _, o := range res.Outcomes {
			states[n][o.Input] = o.State
		}
		for _, in := range inputs {
			data, err := os.ReadFile(filepath.Join(outDir, "watermarked_"+filepath.Base(in)))
			if err != nil {
				t.Fatal(err)
			}
			outputs[n] = append(outputs[n], data)
		}
	}
	for _, in := range all {
		if states[1][in] != states[2][in] || states[1][in] != states[8][in] {
			t.Errorf("%s: states %v, %v, %v differ by concurrency", filepath.Base(in), states[1][in], states[2][in], states[8][in])
		}
	}
	if states[1][corrupt] != batch.Failed || states[1][missing] != batch.Failed {
		t.Errorf("bad inputs did not fail: %v", states[1])
	}
	for i := range inputs {
		if !bytes.Equal(outputs[1][i], outputs[8][i]) || !bytes.Equal(outputs[1][i], outputs[2][i]) {
			t.Errorf("output %d depends on concurrency", i+1)
		}
	}
}

func TestRunSharedBuildFailure(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, dir, 3)
	bad := spec
	bad.Opacity = 2

	res := batch.New().Run(context.Background(), inputs, filepath.Join(dir, "out"), batch.FromSpec(bad))
	if len(res.Outcomes) != 3 || res.Failed != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, o := range res.Outcomes {
		if !errors.Is(o.Err, pdfmark.ErrInvalidSpec) {
			t.Errorf("%s: error = %v, want ErrInvalidSpec", o.Input, o.Err)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, dir, 4)
	outDir := filepath.Join(dir, "out")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := batch.New().Run(ctx, inputs, outDir, batch.FromSpec(spec))
	if len(res.Outcomes) != len(inputs) || res.Failed != len(inputs) {
		t.Fatalf("result = %+v", res)
	}
	for _, o := range res.Outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("%s: error = %v, want context.Canceled", o.Input, o.Err)
		}
		if _, err := os.Stat(o.Output); !os.IsNotExist(err) {
			t.Errorf("%s: undispatched item wrote output", o.Input)
		}
	}
}

func TestRunCancelDuringRun(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, dir, 6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the first item starts; with one worker the rest are
	// still waiting for dispatch.
	var once sync.Once
	sink := progress.Func(func(e progress.Event) {
		if e.State == string(batch.Running) {
			once.Do(cancel)
		}
	})
	res := batch.New(batch.WithConcurrency(1), batch.WithSink(sink)).
		Run(ctx, inputs, filepath.Join(dir, "out"), batch.FromSpec(spec))
	if len(res.Outcomes) != len(inputs) {
		t.Fatalf("got %d outcomes, want %d", len(res.Outcomes), len(inputs))
	}
	if res.Succeeded < 1 {
		t.Error("dispatched item did not run to completion")
	}
	for _, o := range res.Failures() {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("%s: error = %v, want context.Canceled", o.Input, o.Err)
		}
	}
}

func TestRunCollisions(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a", "report.pdf")
	b := filepath.Join(dir, "b", "report.pdf")
	createTestPDF(t, a, 1)
	createTestPDF(t, b, 2)
	inputs := []string{a, b}

	t.Run("overwrite", func(t *testing.T) {
		outDir := filepath.Join(dir, "overwrite")
		res := batch.New(batch.WithConcurrency(1)).Run(context.Background(), inputs, outDir, batch.FromSpec(spec))
		if res.Succeeded != 2 {
			t.Fatalf("result = %+v", res)
		}
		if res.Outcomes[0].Output != res.Outcomes[1].Output {
			t.Errorf("outputs differ: %s, %s", res.Outcomes[0].Output, res.Outcomes[1].Output)
		}
	})

	t.Run("error", func(t *testing.T) {
		outDir := filepath.Join(dir, "error")
		res := batch.New(batch.WithCollision(batch.CollisionError)).
			Run(context.Background(), inputs, outDir, batch.FromSpec(spec))
		if res.Succeeded != 1 || res.Failed != 1 {
			t.Fatalf("result = %+v", res)
		}
		if o := outcomeFor(t, res, b); !errors.Is(o.Err, pdfmark.ErrIO) {
			t.Errorf("duplicate error = %v, want ErrIO", o.Err)
		}
		doc, err := reader.Open(filepath.Join(outDir, "watermarked_report.pdf"))
		if err != nil {
			t.Fatal(err)
		}
		if doc.NumPages() != 1 {
			t.Errorf("output has %d pages, want the first input's 1", doc.NumPages())
		}
	})

	t.Run("uniquify", func(t *testing.T) {
		outDir := filepath.Join(dir, "uniquify")
		res := batch.New(batch.WithCollision(batch.CollisionUniquify)).
			Run(context.Background(), inputs, outDir, batch.FromSpec(spec))
		if res.Succeeded != 2 {
			t.Fatalf("result = %+v", res)
		}
		if o := outcomeFor(t, res, b); o.Output != filepath.Join(outDir, "watermarked_report_2.pdf") {
			t.Errorf("second output = %s", o.Output)
		}
		assertFiles(t, outDir, "watermarked_report.pdf", "watermarked_report_2.pdf")
	})

	t.Run("uniquify taken suffix", func(t *testing.T) {
		c := filepath.Join(dir, "c", "report_2.pdf")
		createTestPDF(t, c, 1)
		outDir := filepath.Join(dir, "uniquify_taken")
		res := batch.New(batch.WithCollision(batch.CollisionUniquify)).
			Run(context.Background(), append(slices.Clone(inputs), c), outDir, batch.FromSpec(spec))
		if res.Succeeded != 3 {
			t.Fatalf("result = %+v", res)
		}
		if o := outcomeFor(t, res, c); o.Output != filepath.Join(outDir, "watermarked_report_2_2.pdf") {
			t.Errorf("third output = %s", o.Output)
		}
		assertFiles(t, outDir, "watermarked_report.pdf", "watermarked_report_2.pdf", "watermarked_report_2_2.pdf")
	})
}

func TestRunFlattenRemovesScratch(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, filepath.Join(dir, "in"), 3)
	scratch := filepath.Join(dir, "scratch")
	if err := os.Mkdir(scratch, 0o755); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")

	res := batch.New(batch.WithMode(batch.ModeFlatten), batch.WithScratchDir(scratch)).
		Run(context.Background(), inputs, outDir, batch.FromSpec(spec))
	if res.Succeeded != 3 {
		t.Fatalf("result: %d succeeded: %v", res.Succeeded, res.Failures())
	}
	assertFiles(t, scratch)
	assertFiles(t, outDir, "watermarked_doc1.pdf", "watermarked_doc2.pdf", "watermarked_doc3.pdf")

	// Single input: the item stages and removes its own overlay.
	res = batch.New(batch.WithMode(batch.ModeFlatten), batch.WithScratchDir(scratch)).
		Run(context.Background(), inputs[:1], filepath.Join(dir, "single"), batch.FromSpec(spec))
	if res.Succeeded != 1 {
		t.Fatalf("single: %v", res.Failures())
	}
	assertFiles(t, scratch)
}

func TestRunFlattenCancelledRemovesScratch(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, dir, 3)
	scratch := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := batch.New(batch.WithMode(batch.ModeFlatten), batch.WithScratchDir(scratch)).
		Run(ctx, inputs, filepath.Join(dir, "out"), batch.FromSpec(spec))
	if len(res.Outcomes) != 3 || res.Failed != 3 {
		t.Fatalf("result = %+v", res)
	}
	assertFiles(t, scratch)
}

func TestRunPrebuiltOverlay(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, filepath.Join(dir, "in"), 2)
	ov, err := overlay.NewBuilder().Build(spec)
	if err != nil {
		t.Fatal(err)
	}
	ovPath := filepath.Join(dir, "overlay.pdf")
	if err := os.WriteFile(ovPath, ov.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, mode := range []batch.Mode{batch.ModeGraft, batch.ModeFlatten} {
		res := batch.New(batch.WithMode(mode)).
			Run(context.Background(), inputs, filepath.Join(dir, mode.String()), batch.FromOverlay(ovPath))
		if res.Succeeded != 2 {
			t.Errorf("%s: %v", mode, res.Failures())
		}
	}
	if _, err := os.Stat(ovPath); err != nil {
		t.Errorf("prebuilt overlay was removed: %v", err)
	}

	res := batch.New().Run(context.Background(), inputs, filepath.Join(dir, "missing"),
		batch.FromOverlay(filepath.Join(dir, "nope.pdf")))
	if res.Failed != 2 {
		t.Fatalf("result = %+v", res)
	}
	for _, o := range res.Outcomes {
		if !errors.Is(o.Err, pdfmark.ErrIO) {
			t.Errorf("%s: error = %v, want ErrIO", o.Input, o.Err)
		}
	}
}

func TestRunProgressEvents(t *testing.T) {
	dir := t.TempDir()
	inputs := createInputs(t, dir, 3)

	var mu sync.Mutex
	states := make(map[string][]string)
	var last progress.Event
	sink := progress.Func(func(e progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		last = e
		if e.Type == progress.TypeItem {
			states[e.ItemID] = append(states[e.ItemID], e.State)
		}
	})
	res := batch.New(batch.WithSink(sink)).Run(context.Background(), inputs, filepath.Join(dir, "out"), batch.FromSpec(spec))

	if len(states) != 3 {
		t.Fatalf("events for %d items, want 3", len(states))
	}
	for id, seq := range states {
		if !slices.Equal(seq, []string{"pending", "running", "succeeded"}) {
			t.Errorf("item %s: states %v", id, seq)
		}
	}
	if last.Type != progress.TypeRun || last.RunID != res.RunID || last.Succeeded != 3 {
		t.Errorf("last event = %+v", last)
	}
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := batch.Enumerate(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.PDF"), filepath.Join(dir, "b.pdf")}
	if !slices.Equal(got, want) {
		t.Errorf("Enumerate(dir) = %v, want %v", got, want)
	}

	file := filepath.Join(dir, "notes.txt")
	if got, err := batch.Enumerate(file); err != nil || !slices.Equal(got, []string{file}) {
		t.Errorf("Enumerate(file) = %v, %v", got, err)
	}
	if _, err := batch.Enumerate(filepath.Join(dir, "missing")); !errors.Is(err, pdfmark.ErrIO) {
		t.Errorf("Enumerate(missing) error = %v, want ErrIO", err)
	}
}

func TestParseOptions(t *testing.T) {
	if m, err := batch.ParseMode("FLATTEN"); err != nil || m != batch.ModeFlatten {
		t.Errorf("ParseMode = %v, %v", m, err)
	}
	if _, err := batch.ParseMode("stamp"); !errors.Is(err, pdfmark.ErrInvalidSpec) {
		t.Errorf("ParseMode(stamp) error = %v", err)
	}
	if c, err := batch.ParseCollision("uniquify"); err != nil || c != batch.CollisionUniquify {
		t.Errorf("ParseCollision = %v, %v", c, err)
	}
	if _, err := batch.ParseCollision("skip"); !errors.Is(err, pdfmark.ErrInvalidSpec) {
		t.Errorf("ParseCollision(skip) error = %v", err)
	}
}

func assertFiles(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if !slices.Equal(got, want) {
		t.Errorf("files in %s = %v, want %v", dir, got, want)
	}
}
