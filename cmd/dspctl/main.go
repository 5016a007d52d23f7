// Command dspctl assembles and runs small pipelines from the stage
// catalog under stages/, driven entirely by flags: no interactive shell,
// no hand-rolled flag parsing, just a declarative command per pipeline
// shape.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/convertino-dsp/dspnode/internal/evlog"
	"github.com/convertino-dsp/dspnode/internal/shutdown"
	"github.com/convertino-dsp/dspnode/pkg/graph"
	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
	"github.com/convertino-dsp/dspnode/stages/file"
	"github.com/convertino-dsp/dspnode/stages/resample"
)

var cli struct {
	Copy CopyCmd `cmd:"" help:"Copy a file through the pipeline core unchanged."`

	Resample ResampleCmd `cmd:"" help:"Resample a raw S16 file to a new sample rate."`

	LogPath  string `help:"Base path for the run's diagnostic log (no extension)." default:"dspctl-run"`
	Capacity int    `help:"Ring buffer capacity, in elements." default:"4096"`
	Chunk    int    `help:"Advisory per-iteration chunk size, in elements." default:"256"`
}

// CopyCmd wires a file Reader straight into a file Writer.
type CopyCmd struct {
	From string `arg:"" help:"Source file path."`
	To   string `arg:"" help:"Destination file path."`
}

// Run builds and executes the copy pipeline.
func (c *CopyCmd) Run(ctx *kong.Context) error {
	reg, err := newRegistry(cli.LogPath)
	if err != nil {
		return err
	}

	src := stage.New(stage.Config{Name: "reader", Capacity: cli.Capacity, ChunkSize: cli.Chunk, Logger: reg.Acquire()})
	dst := stage.New(stage.Config{Name: "writer", Capacity: cli.Capacity, ChunkSize: cli.Chunk, Logger: reg.Acquire()})
	defer reg.Release()
	defer reg.Release()

	if err := src.Setup(&file.Reader{Path: c.From, Tag: sample.U8}); err != nil {
		return err
	}
	if err := dst.Setup(&file.Writer{Path: c.To, Tag: sample.U8, Method: file.Overwrite}); err != nil {
		return err
	}

	g := graph.New().Add(src).Add(dst).Bind(dst, src)
	return runGraph(g)
}

// ResampleCmd wires Reader -> resample.Stage -> Writer for raw S16 PCM.
type ResampleCmd struct {
	From string `arg:"" help:"Source raw S16 PCM file path."`
	To   string `arg:"" help:"Destination raw S16 PCM file path."`

	FromRate int `help:"Input sample rate, Hz." default:"16000"`
	ToRate   int `help:"Output sample rate, Hz." default:"8000"`
}

// Run builds and executes the resample pipeline.
func (c *ResampleCmd) Run(ctx *kong.Context) error {
	reg, err := newRegistry(cli.LogPath)
	if err != nil {
		return err
	}

	src := stage.New(stage.Config{Name: "reader", Capacity: cli.Capacity, ChunkSize: cli.Chunk, Logger: reg.Acquire()})
	mid := stage.New(stage.Config{Name: "resample", Capacity: cli.Capacity, ChunkSize: cli.Chunk, Logger: reg.Acquire()})
	dst := stage.New(stage.Config{Name: "writer", Capacity: cli.Capacity, ChunkSize: cli.Chunk, Logger: reg.Acquire()})
	defer reg.Release()
	defer reg.Release()
	defer reg.Release()

	if err := src.Setup(&file.Reader{Path: c.From, Tag: sample.S16}); err != nil {
		return err
	}
	if err := mid.Setup(&resample.Stage{FromRate: c.FromRate, ToRate: c.ToRate}); err != nil {
		return err
	}
	if err := dst.Setup(&file.Writer{Path: c.To, Tag: sample.S16, Method: file.Overwrite}); err != nil {
		return err
	}

	g := graph.New().Add(src).Add(mid).Add(dst).Bind(mid, src).Bind(dst, mid)
	return runGraph(g)
}

func newRegistry(logPath string) (*stage.Registry, error) {
	logger, err := evlog.New(logPath)
	if err != nil {
		return nil, fmt.Errorf("dspctl: open log: %w", err)
	}
	return stage.NewRegistry(logger), nil
}

func runGraph(g *graph.Graph) error {
	if err := g.Wire(); err != nil {
		return err
	}

	interrupt := shutdown.Install()
	defer interrupt.Detach()

	hb := shutdown.NewHeartbeat()
	hb.Start()
	defer hb.Stop()

	if err := g.Start(); err != nil {
		return err
	}
	g.Join()

	return g.Cleanup()
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("dspctl"),
		kong.Description("Assemble and run streaming signal-processing pipelines from the stage catalog."),
	)

	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)

	os.Exit(0)
}
