package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/Lllllllleong/bookletflow/internal/models"
	"github.com/Lllllllleong/bookletflow/internal/services"
)

const version = "1.0.0"

const usageEpilog = `
Inner and outer margins have the following meanings.

    +---------------+
    |###############|
    |#    @@:@@    #|
    |# P1 @@:@@ P2 #|
    |#    @@:@@    #|
    |###############|
    +---------------+

'#' is the outer margin (both dimensions) along the outline of the
    physical paper.
'@' is the inner fold margin (horizontally) between the actual content
    and the center of the paper indicated by ':'.

Input and output may be local files or gs://bucket/object URIs.
`

// mmFlag is an integer millimetre setting that stays nil unless given.
type mmFlag struct{ v *int }

func (m *mmFlag) String() string {
	if m.v == nil {
		return "default"
	}
	return strconv.Itoa(*m.v)
}

func (m *mmFlag) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("margin must be a whole number of millimetres: %w", err)
	}
	m.v = &n
	return nil
}

func main() {
	var (
		opts              models.BookletOptions
		a5, view, verbose bool
		showVersion       bool
		output            string
		outer, inner      mmFlag
	)

	fs := flag.NewFlagSet("mkbooklet", flag.ExitOnError)
	boolFlag := func(p *bool, short, long, usage string) {
		fs.BoolVar(p, short, false, usage)
		fs.BoolVar(p, long, false, usage+" (same as -"+short+")")
	}
	intFlag := func(p *int, short, long, usage string) {
		fs.IntVar(p, short, 0, usage)
		fs.IntVar(p, long, 0, usage+" (same as -"+short+")")
	}

	boolFlag(&a5, "5", "a5", "produce single A5 pages instead of 2-up A4")
	boolFlag(&opts.CropOnly, "C", "croponly", "only crop the input file, do not create a booklet")
	intFlag(&opts.SheetsPerSignature, "S", "signature", "use at most the given number of sheets for one signature instead of one big signature")
	fs.StringVar(&opts.BoxOverride, "b", "", "use the given bounding box, as x1,y1,x2,y2 or x,y+w,h")
	fs.StringVar(&opts.BoxOverride, "bbox", "", "same as -b")
	boolFlag(&opts.NoCrop, "c", "nocrop", "do not crop the input file")
	intFlag(&opts.ExtraPages, "e", "extrapages", "add the given number of blank pages at the end of the document")
	boolFlag(&opts.NoGuides, "g", "noguides", "do not apply any guides on the first page")
	fs.Var(&inner, "i", "minimal inner (fold) margin in millimetres, see below")
	fs.Var(&inner, "inner-margins", "same as -i")
	boolFlag(&opts.LongArm, "l", "longarm", "generate staple guides for long-arm staplers")
	fs.Var(&outer, "o", "minimal outer margin in millimetres, see below")
	fs.Var(&outer, "outer-margins", "same as -o")
	intFlag(&opts.BoxPage, "p", "bboxpage", "use the given page number to obtain the bounding box")
	boolFlag(&opts.MedianBox, "s", "smartbbox", "use the median of all pages when obtaining the bounding box")
	fs.StringVar(&output, "output", "", "write the booklet to this path or gs:// URI instead of only viewing it")
	fs.BoolVar(&view, "view", false, "open the viewer even when -output is given")
	fs.BoolVar(&verbose, "v", false, "log debug output")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mkbooklet [flags] <filename>\n\nPrepare PDF files for booklet printing.\n\n")
		fs.PrintDefaults()
		fmt.Fprint(fs.Output(), usageEpilog)
	}
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println("mkbooklet", version)
		return
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if a5 {
		opts.Layout = models.LayoutSingleLeaf
	}
	opts.OuterMarginMM, opts.InnerMarginMM = outer.v, inner.v

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	config, err := services.LoadBookletConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	booklet, err := services.NewBooklet(ctx, config)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	resp, err := booklet.Process(ctx, models.BookletRequest{
		Input:     fs.Arg(0),
		Output:    output,
		View:      view,
		Overwrite: true,
		Options:   opts,
	})
	if err != nil {
		slog.Error("Booklet failed", "error", err)
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resp); err != nil {
		slog.Error("Failed to encode result", "error", err)
		os.Exit(1)
	}
}
