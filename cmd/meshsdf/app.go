package main

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/meshsdf"
	"github.com/soypat/meshsdf/meshio"
)

// Flags.
const (
	flagReference = "reference"
	flagQuery     = "query"
	flagWinding   = "winding"
	flagOut       = "out"
	flagWorkers   = "workers"
	flagChunk     = "chunk"
	flagLimit     = "limit"
	flagHistogram = "histogram"
	flagBins      = "bins"
	flagWeldTol   = "weld-tol"
	flagLogLevel  = "log-level"
)

// newApp returns the command with Writer set to out and ErrWriter set to
// errOut. Logs go to errOut.
func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "meshsdf",
		Usage:           "signed distance from the vertices of a query surface to a reference surface",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagReference,
				Aliases:  []string{"r"},
				Usage:    "reference surface, binary STL `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:     flagQuery,
				Aliases:  []string{"q"},
				Usage:    "query surface, binary STL `FILE` whose vertices are evaluated",
				Required: true,
			},
			&cli.StringFlag{
				Name:    flagWinding,
				Aliases: []string{"w"},
				Usage:   "inside/outside rule: EVEN_ODD, NEGATIVE, NONZERO or NORMALS",
				Value:   meshsdf.EvenOdd.String(),
				EnvVars: []string{"MESHSDF_WINDING"},
			},
			&cli.StringFlag{
				Name:    flagOut,
				Aliases: []string{"o"},
				Usage:   "write one signed distance per query vertex to `FILE`, stdout if empty",
			},
			&cli.IntFlag{
				Name:    flagWorkers,
				Usage:   "number of parallel workers, 0 uses every CPU",
				EnvVars: []string{"MESHSDF_WORKERS"},
			},
			&cli.IntFlag{
				Name:    flagChunk,
				Usage:   "query points handed to a worker at a time",
				Value:   meshsdf.DefaultChunkSize,
				EnvVars: []string{"MESHSDF_CHUNK"},
			},
			&cli.Float64Flag{
				Name:  flagLimit,
				Usage: "report NaN for points farther than this from the reference, 0 means no limit",
			},
			&cli.StringFlag{
				Name:  flagHistogram,
				Usage: "save a histogram of the signed distances to `FILE` (.png, .svg, .pdf)",
			},
			&cli.IntFlag{
				Name:  flagBins,
				Usage: "histogram bin count",
				Value: 64,
			},
			&cli.Float64Flag{
				Name:  flagWeldTol,
				Usage: "merge STL vertices closer than this, 0 infers it from the shortest edge",
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"MESHSDF_LOG_LEVEL"},
			},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c.String(flagLogLevel), c.App.ErrWriter)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()
			return runAction(c, logger)
		},
	}
}

// newLogger returns a console logger writing to w, configured like
// a development logger without stacktraces.
func newLogger(level string, w io.Writer) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(w), lvl)
	return zap.New(core).Named("meshsdf").Sugar(), nil
}

func runAction(c *cli.Context, logger *zap.SugaredLogger) error {
	start := time.Now()
	cfg := meshsdf.Config{
		Winding:   c.String(flagWinding),
		Workers:   c.Int(flagWorkers),
		ChunkSize: c.Int(flagChunk),
		Limit:     c.Float64(flagLimit),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	weldTol := c.Float64(flagWeldTol)

	vertices, triangles, err := readSurface(c.String(flagReference), weldTol, logger)
	if err != nil {
		return errors.Wrap(err, "reference surface")
	}
	mesh, err := meshsdf.NewMesh(vertices, triangles)
	if err != nil {
		return err
	}
	points, _, err := readSurface(c.String(flagQuery), weldTol, logger)
	if err != nil {
		return errors.Wrap(err, "query surface")
	}

	dists, err := meshsdf.Run(c.Context, cfg, mesh, points, logger)
	if err != nil {
		return err
	}
	if out := c.String(flagOut); out != "" {
		err = meshio.WriteScalarsFile(out, dists)
	} else {
		err = meshio.WriteScalars(c.App.Writer, dists)
	}
	if err != nil {
		return errors.Wrap(err, "writing signed distances")
	}

	sum := meshsdf.Summarize(dists)
	logger.Infow("signed distance summary",
		"points", sum.N, "nan", sum.NaN, "inside", sum.Inside,
		"min", sum.Min, "max", sum.Max, "mean", sum.Mean, "stddev", sum.StdDev, "rms", sum.RMS,
		"elapsed", time.Since(start))

	if path := c.String(flagHistogram); path != "" {
		if err := saveHistogram(path, dists, c.Int(flagBins)); err != nil {
			return errors.Wrap(err, "saving histogram")
		}
		logger.Debugw("saved histogram", "path", path)
	}
	return nil
}

// readSurface reads and welds a binary STL surface. Stored normals that
// disagree with the winding are reported and otherwise ignored.
func readSurface(path string, weldTol float64, logger *zap.SugaredLogger) ([]r3.Vec, [][3]int, error) {
	model, err := meshio.ReadSTLFile(path)
	if err != nil {
		if !errors.Is(err, meshio.ErrNormalMismatch) {
			return nil, nil, err
		}
		logger.Warnw("ignoring stored STL normals", "path", path, "error", err)
	}
	vertices, triangles, err := meshio.Weld(model, weldTol)
	if err != nil {
		return nil, nil, err
	}
	logger.Debugw("read surface", "path", path, "triangles", len(triangles), "vertices", len(vertices))
	return vertices, triangles, nil
}
