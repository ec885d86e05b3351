package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/tphakala/hotword-go/internal/audiocore"
	"github.com/tphakala/hotword-go/internal/audiocore/sources"
	"github.com/tphakala/hotword-go/internal/audiocore/sources/wavfile"
	"github.com/tphakala/hotword-go/internal/bridge"
	"github.com/tphakala/hotword-go/internal/conf"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
)

// Output formats of the file command.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// FileOptions configure a file analysis run.
type FileOptions struct {
	// Speed scales replay pacing, 1 is real time. Faster replay can overrun
	// the consumer and skip cycles.
	Speed  float64
	Format string
	Output io.Writer
	// Loader overrides the configured engine.
	Loader bridge.Loader
	Logger logger.Logger
}

// FileSummary describes a finished file analysis.
type FileSummary struct {
	Duration time.Duration
	Cycles   uint64
	Results  int
	Hotwords int
	Overruns uint64
}

// FileAnalysis replays settings.InputFile through a detection session and
// writes every result change to opts.Output.
func FileAnalysis(ctx context.Context, settings *conf.Settings, opts FileOptions) (FileSummary, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("analysis")
	}
	if opts.Speed < 0 {
		return FileSummary{}, errors.Newf("replay speed must not be negative").
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("speed", opts.Speed).
			Build()
	}

	info, err := wavfile.Probe(settings.InputFile)
	if err != nil {
		return FileSummary{}, err
	}
	log.Info("Analyzing file",
		logger.String("path", settings.InputFile),
		logger.Int("sample_rate", info.SampleRate),
		logger.Int("channels", info.Channels),
		logger.Int("bit_depth", info.BitDepth),
		logger.Duration("duration", info.Duration))

	printer, err := newResultPrinter(opts.Output, opts.Format)
	if err != nil {
		return FileSummary{}, err
	}

	p, err := NewPipeline(settings, Options{
		Loader: opts.Loader,
		NewSource: func() (audiocore.Source, error) {
			return sources.CreateSource(&settings.Audio, sources.Options{
				Type:  sources.TypeFile,
				Path:  settings.InputFile,
				Speed: opts.Speed,
			})
		},
		Consumers: []events.Consumer{printer},
		Logger:    log,
	})
	if err != nil {
		return FileSummary{}, err
	}
	p.Start(ctx)
	defer p.Close()

	start := time.Now()
	if err := p.Bridge.Start(ctx); err != nil {
		return FileSummary{}, err
	}

	select {
	case <-p.Bridge.Done():
	case <-ctx.Done():
		log.Info("File analysis interrupted")
	}
	st := p.Bridge.Status()
	p.Close()

	if err := printer.Flush(); err != nil {
		return FileSummary{}, err
	}

	summary := FileSummary{
		Duration: time.Since(start),
		Cycles:   st.Consumer.Cycles,
		Results:  printer.results,
		Hotwords: printer.hotwords,
		Overruns: st.Producer.Overruns,
	}
	if st.State == bridge.StateFailed.String() {
		return summary, errors.Newf("file analysis failed: %s", st.Error).
			Component("analysis").
			Category(errors.CategoryProcessing).
			Context("path", settings.InputFile).
			Build()
	}
	if summary.Overruns > 0 {
		log.Warn("Replay outpaced detection, some cycles were skipped",
			logger.Uint64("overruns", summary.Overruns),
			logger.Float64("speed", opts.Speed))
	}
	return summary, nil
}

// resultPrinter writes result events as a table or JSON lines.
type resultPrinter struct {
	mu       sync.Mutex
	format   string
	tw       *tabwriter.Writer
	enc      *json.Encoder
	start    time.Time
	results  int
	hotwords int
}

func newResultPrinter(w io.Writer, format string) (*resultPrinter, error) {
	if w == nil {
		w = io.Discard
	}
	rp := &resultPrinter{format: format}
	switch format {
	case FormatTable, "":
		rp.format = FormatTable
		rp.tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		if _, err := fmt.Fprintln(rp.tw, "ELAPSED\tCYCLE\tSCORE\tLABEL\tLATENCY"); err != nil {
			return nil, err
		}
	case FormatJSON:
		rp.enc = json.NewEncoder(w)
	default:
		return nil, errors.Newf("unknown output format %q", format).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	return rp, nil
}

func (rp *resultPrinter) Name() string { return "file-output" }

func (rp *resultPrinter) ProcessEvent(e events.Event) error {
	if e.Kind != events.KindResult {
		return nil
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.start.IsZero() {
		rp.start = e.Time.Add(-e.Latency)
	}
	rp.results++
	if e.IsHotword() {
		rp.hotwords++
	}

	if rp.format == FormatJSON {
		return rp.enc.Encode(e)
	}
	_, err := fmt.Fprintf(rp.tw, "%s\t%d\t%d\t%s\t%s\n",
		e.Time.Sub(rp.start).Truncate(time.Millisecond), e.Cycle, e.Score, e.Label, e.Latency)
	return err
}

// Flush writes buffered table rows.
func (rp *resultPrinter) Flush() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.tw != nil {
		return rp.tw.Flush()
	}
	return nil
}
