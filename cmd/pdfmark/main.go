// Command pdfmark stamps a rotated, semi-transparent text watermark on PDF
// documents.
//
// # Usage
//
//	pdfmark -input report.pdf -output report-marked.pdf -text CONFIDENTIAL
//	pdfmark -input ./docs -output ./marked -text DRAFT -threads 8
//
// When -input is a directory, or -output is an existing directory, every
// PDF is written to the output directory as watermarked_<name>. A prebuilt
// overlay (see the create_watermark tool of pdfmark-mcp) can replace the text
// parameters with -watermark.
//
// Settings may also come from a JSON file given with -config; flags given on
// the command line take precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/batch"
	"github.com/lvillar/pdfmark/compose"
	"github.com/lvillar/pdfmark/fontdata"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/pageops"
	"github.com/lvillar/pdfmark/progress"
)

type options struct {
	input, output string
	configPath    string
	progressAddr  string
	cfg           pdfmark.Config
}

func main() {
	log.SetFlags(log.LstdFlags)
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "pdfmark: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line, merging it over the -config file.
func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("pdfmark", flag.ContinueOnError)
	var (
		o        options
		flagCfg  pdfmark.Config
		opacity  float64
		angle    float64
		fontPath string
	)
	fs.StringVar(&o.input, "input", "", "input PDF file or directory")
	fs.StringVar(&o.output, "output", "", "output PDF file, or output directory")
	fs.StringVar(&o.configPath, "config", "", "JSON config file")
	fs.StringVar(&o.progressAddr, "progress-addr", "", "serve progress events over WebSocket on this address (path /ws)")
	fs.StringVar(&flagCfg.Text, "text", "", "watermark text")
	fs.Float64Var(&opacity, "opacity", pdfmark.DefaultOpacity, "watermark opacity (0.0-1.0)")
	fs.Float64Var(&angle, "angle", pdfmark.DefaultAngle, "watermark rotation in degrees")
	fs.Float64Var(&flagCfg.FontSize, "size", pdfmark.DefaultFontSize, "watermark font size in points")
	fs.StringVar(&flagCfg.Color, "color", "0,0,0", `watermark color as "R,G,B"`)
	fs.StringVar(&fontPath, "font", "", "TrueType font file (for text outside Latin-1, e.g. CJK)")
	fs.StringVar(&flagCfg.Overlay, "watermark", "", "prebuilt overlay PDF, replaces the text parameters")
	fs.IntVar(&flagCfg.Concurrency, "threads", 4, "documents processed at once")
	fs.StringVar(&flagCfg.Mode, "mode", "graft", "graft or flatten")
	fs.StringVar(&flagCfg.Fit, "fit", "native", "overlay placement: native or scale")
	fs.StringVar(&flagCfg.Collision, "collision", "overwrite", "duplicate output names: overwrite, error or uniquify")
	fs.StringVar(&flagCfg.Prefix, "prefix", batch.DefaultPrefix, "output file name prefix in directory mode")
	fs.BoolVar(&flagCfg.FontFallback, "font-fallback", false, "fall back to Helvetica when the font cannot be used")
	fs.BoolVar(&flagCfg.Verify, "verify", false, "re-read every output with an independent parser before saving")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.configPath != "" {
		cfg, err := pdfmark.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		o.cfg = *cfg
	}
	flagCfg.FontPath = fontPath
	flagCfg.Opacity = &opacity
	flagCfg.Angle = &angle

	// Defaults fill what the config leaves unset; explicit flags override it.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	merge(&o.cfg, &flagCfg, set)

	if o.input == "" || o.output == "" {
		return nil, fmt.Errorf("-input and -output are required")
	}
	if o.cfg.Text == "" && o.cfg.Overlay == "" {
		return nil, fmt.Errorf("-text or -watermark is required")
	}
	return &o, nil
}

// merge copies into dst every flag value that was set explicitly, and every
// default the config left unset.
func merge(dst, flags *pdfmark.Config, set map[string]bool) {
	pick := func(name string, unset bool) bool { return set[name] || unset }
	if pick("text", dst.Text == "") {
		dst.Text = flags.Text
	}
	if pick("opacity", dst.Opacity == nil) {
		dst.Opacity = flags.Opacity
	}
	if pick("angle", dst.Angle == nil) {
		dst.Angle = flags.Angle
	}
	if pick("size", dst.FontSize == 0) {
		dst.FontSize = flags.FontSize
	}
	if pick("color", dst.Color == "") {
		dst.Color = flags.Color
	}
	if pick("font", dst.FontPath == "") {
		dst.FontPath = flags.FontPath
	}
	if pick("watermark", dst.Overlay == "") {
		dst.Overlay = flags.Overlay
	}
	if pick("threads", dst.Concurrency == 0) {
		dst.Concurrency = flags.Concurrency
	}
	if pick("mode", dst.Mode == "") {
		dst.Mode = flags.Mode
	}
	if pick("fit", dst.Fit == "") {
		dst.Fit = flags.Fit
	}
	if pick("collision", dst.Collision == "") {
		dst.Collision = flags.Collision
	}
	if pick("prefix", dst.Prefix == "") {
		dst.Prefix = flags.Prefix
	}
	if set["font-fallback"] {
		dst.FontFallback = flags.FontFallback
	}
	if set["verify"] {
		dst.Verify = flags.Verify
	}
}

func run(ctx context.Context, o *options) error {
	cfg := o.cfg
	mode, err := batch.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	fit, err := compose.ParseFit(cfg.Fit)
	if err != nil {
		return err
	}
	collision, err := batch.ParseCollision(cfg.Collision)
	if err != nil {
		return err
	}

	fonts := fontdata.NewCache(nil)
	builder := overlay.NewBuilder(overlay.WithFontCache(fonts), overlay.WithFontFallback(cfg.FontFallback))
	src, err := source(&cfg, fonts)
	if err != nil {
		return err
	}

	if single(o) {
		return runSingle(o, &cfg, src, builder, mode, fit)
	}

	inputs, err := batch.Enumerate(o.input)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		log.Printf("[WARN] no PDF files found in %s", o.input)
		return nil
	}
	log.Printf("[INFO] processing %d files with %d workers", len(inputs), max(cfg.Concurrency, 1))

	sink := progress.Sink(progress.NewLog(nil))
	if o.progressAddr != "" {
		hub := progress.NewHub(nil)
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: o.progressAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[ERROR] progress server: %v", err)
			}
		}()
		defer srv.Close()
		log.Printf("[INFO] progress events on ws://%s/ws", o.progressAddr)
		sink = progress.Multi(sink, hub)
	}

	d := batch.New(
		batch.WithConcurrency(cfg.Concurrency),
		batch.WithPrefix(cfg.Prefix),
		batch.WithCollision(collision),
		batch.WithMode(mode),
		batch.WithFit(fit),
		batch.WithVerify(cfg.Verify),
		batch.WithBuilder(builder),
		batch.WithSink(sink),
	)
	res := d.Run(ctx, inputs, o.output, src)
	log.Printf("[INFO] done: %d succeeded, %d failed in %v", res.Succeeded, res.Failed, res.Duration.Round(time.Millisecond))
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", res.Failed, len(res.Outcomes))
	}
	return nil
}

// single reports whether the run maps one input file to one output file.
func single(o *options) bool {
	if info, err := os.Stat(o.input); err != nil || info.IsDir() {
		return false
	}
	if info, err := os.Stat(o.output); err == nil && info.IsDir() {
		return false
	}
	return strings.EqualFold(filepath.Ext(o.output), ".pdf")
}

func runSingle(o *options, cfg *pdfmark.Config, src batch.Source, builder *overlay.Builder, mode batch.Mode, fit compose.Fit) error {
	var ov *overlay.Page
	var err error
	if src.OverlayPath != "" {
		ov, err = overlay.Load(src.OverlayPath)
	} else {
		ov, err = builder.Build(*src.Spec)
	}
	if err != nil {
		return err
	}
	opts := []pageops.Option{pageops.WithFit(fit), pageops.WithVerify(cfg.Verify)}
	if mode == batch.ModeFlatten {
		err = pageops.ApplyWatermarkFlattened(o.input, o.output, ov, opts...)
	} else {
		err = pageops.ApplyWatermark(o.input, o.output, ov, opts...)
	}
	if err != nil {
		return err
	}
	log.Printf("[INFO] watermark added: %s -> %s", o.input, o.output)
	return nil
}

// source turns the config into a batch source, loading the font file when
// one is named.
func source(cfg *pdfmark.Config, fonts *fontdata.Cache) (batch.Source, error) {
	if cfg.Overlay != "" {
		return batch.FromOverlay(cfg.Overlay), nil
	}
	spec, err := cfg.Spec()
	if err != nil {
		return batch.Source{}, err
	}
	if cfg.FontPath != "" {
		f, err := fonts.Load(cfg.FontPath)
		switch {
		case err == nil:
			spec.Font = pdfmark.FontRef{Name: f.Name, Data: f.Data()}
		case cfg.FontFallback:
			log.Printf("[WARN] font %s unusable, using %s: %v", cfg.FontPath, pdfmark.DefaultFontName, err)
		default:
			return batch.Source{}, pdfmark.NewError(pdfmark.ErrFontLoad, "load font", cfg.FontPath, err)
		}
	}
	if err := spec.Validate(); err != nil {
		return batch.Source{}, err
	}
	return batch.FromSpec(spec), nil
}
