// Package main is cubemesh, a command line tool that builds voxel shapes or loads grid dumps
// and exports their surfaces as binary glTF.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/mikerobots/cube-builder/config"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/surface"
	"github.com/mikerobots/cube-builder/voxel"
)

const (
	// Flags.
	flagConfig     = "config"
	flagDebug      = "debug"
	flagTrace      = "trace"
	flagResolution = "resolution"
	flagLOD        = "lod"
	flagPreset     = "preset"
	flagChunkSize  = "chunk-size"
	flagSmoothing  = "smoothing"
	flagOut        = "out"
	flagIn         = "in"
	flagDump       = "dump"
	flagMin        = "min"
	flagMax        = "max"
	flagCenter     = "center"
	flagRadius     = "radius"
)

func main() {
	app := newApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runner holds what every command needs once the global flags have been read.
type runner struct {
	out    io.Writer
	logger logging.Logger
	closer io.Closer
	cfg    *config.Config
}

func newApp(out io.Writer) *cli.App {
	r := &runner{out: out}
	meshFlags := []cli.Flag{
		&cli.StringFlag{Name: flagResolution, Aliases: []string{"r"}, Value: "1cm", Usage: "voxel edge length"},
		&cli.IntFlag{Name: flagLOD, Value: -1, Usage: "level of detail 0-4, defaults to the preset's"},
		&cli.StringFlag{
			Name:  flagPreset,
			Value: "default",
			Usage: "surface preset: default, preview, fast-preview, balanced-preview, high-quality-preview or export",
		},
		&cli.IntFlag{Name: flagChunkSize, Usage: "extract in chunks of this many cells"},
		&cli.IntFlag{Name: flagSmoothing, Usage: "smoothing level 0-10, defaults to the preset's"},
		&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "write the mesh to `FILE` as glb"},
		&cli.StringFlag{Name: flagDump, Usage: "also write the voxel grid to `FILE`"},
	}

	return &cli.App{
		Name:  "cubemesh",
		Usage: "turn voxel shapes into meshes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagTrace,
				Usage: "log generation of the grid with this `ID` at debug level",
			},
		},
		Before: r.before,
		After:  r.after,
		Commands: []*cli.Command{
			{
				Name:  "box",
				Usage: "mesh a solid box of voxels",
				Flags: append([]cli.Flag{
					&cli.IntSliceFlag{Name: flagMin, Usage: "low corner voxel x,y,z", Value: cli.NewIntSlice(0, 0, 0)},
					&cli.IntSliceFlag{Name: flagMax, Usage: "high corner voxel x,y,z", Required: true},
				}, meshFlags...),
				Action: r.box,
			},
			{
				Name:  "sphere",
				Usage: "mesh a solid sphere of voxels",
				Flags: append([]cli.Flag{
					&cli.IntSliceFlag{Name: flagCenter, Usage: "center voxel x,y,z", Required: true},
					&cli.Float64Flag{Name: flagRadius, Usage: "radius in voxels", Required: true},
				}, meshFlags...),
				Action: r.sphere,
			},
			{
				Name:  "mesh",
				Usage: "mesh a voxel grid dump",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagIn, Aliases: []string{"i"}, Usage: "read the grid from `FILE`", Required: true},
				}, meshFlags...),
				Action: r.meshDump,
			},
			{
				Name:  "info",
				Usage: "describe a voxel grid dump",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Aliases: []string{"i"}, Usage: "read the grid from `FILE`", Required: true},
				},
				Action: r.info,
			},
		},
	}
}

func (r *runner) before(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		bootstrap := logging.NewBlankLogger("cubemesh")
		var err error
		if cfg, err = config.Read(path, bootstrap); err != nil {
			return err
		}
	}
	if c.Bool(flagDebug) {
		cfg.Logging.Level = logging.DEBUG
	}
	r.cfg = cfg
	r.logger, r.closer = cfg.NewLogger("cubemesh")
	return nil
}

func (r *runner) after(*cli.Context) error {
	if r.logger == nil {
		return nil
	}
	return multierr.Combine(r.logger.Sync(), r.closer.Close())
}

// settings applies the mesh flags to the chosen preset.
func (r *runner) settings(c *cli.Context) (surface.Settings, error) {
	var s surface.Settings
	switch preset := c.String(flagPreset); preset {
	case "default":
		s = r.cfg.Surface
	case "preview":
		s = surface.PreviewSettings()
	case "fast-preview":
		s = surface.FastPreviewSettings()
	case "balanced-preview":
		s = surface.BalancedPreviewSettings()
	case "high-quality-preview":
		s = surface.HighQualityPreviewSettings()
	case "export":
		s = surface.ExportSettings()
	default:
		return s, errors.Errorf("unknown preset %q", preset)
	}
	if lod := c.Int(flagLOD); lod >= 0 {
		s.LOD = lod
	}
	if c.IsSet(flagChunkSize) {
		s.ChunkSize = c.Int(flagChunkSize)
	}
	if c.IsSet(flagSmoothing) {
		s.SmoothingLevel = c.Int(flagSmoothing)
	}
	return s, s.Validate()
}

func (r *runner) box(c *cli.Context) error {
	lo, err := vector(c, flagMin)
	if err != nil {
		return err
	}
	hi, err := vector(c, flagMax)
	if err != nil {
		return err
	}
	return r.shape(c, boxShape{lo: lo, hi: hi})
}

func (r *runner) sphere(c *cli.Context) error {
	center, err := vector(c, flagCenter)
	if err != nil {
		return err
	}
	return r.shape(c, sphereShape{center: center, radius: c.Float64(flagRadius)})
}

// shape fills a fresh workspace with s and meshes the grid it landed in.
func (r *runner) shape(c *cli.Context, s shape) error {
	res, err := voxel.ParseResolution(c.String(flagResolution))
	if err != nil {
		return err
	}
	settings, err := r.settings(c)
	if err != nil {
		return err
	}
	svc, err := r.cfg.Build(r.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := s.fill(svc.Data, res)
	if err != nil {
		return err
	}
	r.logger.Infow("shape filled", "voxels", n, "resolution", res)
	grid, err := svc.Data.Grid(res)
	if err != nil {
		return err
	}
	return r.generate(c, svc, grid, settings)
}

func (r *runner) meshDump(c *cli.Context) error {
	settings, err := r.settings(c)
	if err != nil {
		return err
	}
	grid, err := r.readGrid(c.String(flagIn))
	if err != nil {
		return err
	}
	svc, err := r.cfg.Build(r.logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.Generator.Register(grid)
	defer svc.Generator.Unregister(grid.ID())
	return r.generate(c, svc, grid, settings)
}

func (r *runner) info(c *cli.Context) error {
	grid, err := r.readGrid(c.String(flagIn))
	if err != nil {
		return err
	}
	dims := grid.Dimensions()
	snap := grid.Snapshot()
	fmt.Fprintf(r.out, "resolution: %v\n", grid.Resolution())
	fmt.Fprintf(r.out, "dimensions: %dx%dx%d\n", dims[0], dims[1], dims[2])
	fmt.Fprintf(r.out, "voxels:     %s\n", humanize.Comma(int64(grid.Count())))
	fmt.Fprintf(r.out, "nodes:      %s\n", humanize.Comma(int64(grid.NodeCount())))
	if bounds, ok := grid.OccupiedBounds(); ok {
		fmt.Fprintf(r.out, "occupied:   %v\n", bounds)
	}
	fmt.Fprintf(r.out, "snapshot:   %s\n", humanize.IBytes(uint64(snap.SizeBytes())))
	return nil
}

// generate meshes grid through the generator, reporting progress events, and writes the outputs.
func (r *runner) generate(c *cli.Context, svc *config.Services, grid *voxel.Grid, settings surface.Settings) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	if c.IsSet(flagTrace) {
		ctx = logging.WithDebugKey(ctx, c.String(flagTrace))
	}
	if svc.Monitor != nil {
		svc.Monitor.Start(ctx)
	}
	stop := logProgress(svc.Bus, r.logger)
	defer stop()

	start := time.Now()
	m, err := svc.Generator.GetOrGenerate(ctx, grid.ID(), settings)
	if err != nil {
		return err
	}
	stats := mesh.ComputeStats(m)
	fmt.Fprintf(r.out, "%d vertices, %d triangles, %d boundary edges, area %.1fcm² in %v\n",
		stats.Vertices, stats.Triangles, stats.BoundaryEdges, stats.Area, time.Since(start).Round(time.Millisecond))

	if path := c.String(flagDump); path != "" {
		if err := writeFile(path, func(w io.Writer) error {
			_, err := grid.WriteTo(w)
			return err
		}); err != nil {
			return err
		}
		r.report(path)
	}
	if path := c.String(flagOut); path != "" {
		if err := writeFile(path, func(w io.Writer) error {
			return mesh.WriteGLB(w, m, "cubemesh")
		}); err != nil {
			return err
		}
		r.report(path)
	}
	return nil
}

func (r *runner) report(path string) {
	if fi, err := os.Stat(path); err == nil {
		fmt.Fprintf(r.out, "wrote %s (%s)\n", path, humanize.Bytes(uint64(fi.Size())))
	}
}

func (r *runner) readGrid(path string) (*voxel.Grid, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return voxel.ReadGrid(f, r.logger)
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return errors.Wrapf(write(f), "writing %s", path)
}

func vector(c *cli.Context, name string) ([3]int, error) {
	vals := c.IntSlice(name)
	if len(vals) != 3 {
		return [3]int{}, errors.Errorf("--%s needs three values, got %v", name, vals)
	}
	return [3]int{vals[0], vals[1], vals[2]}, nil
}
