package meshsdf

import (
	"context"
	"math"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultChunkSize is the number of query points a worker evaluates
// between cancellation checks.
const DefaultChunkSize = 256

type options struct {
	workers int
	chunk   int
	logger  *zap.SugaredLogger
	limit   float64
}

// Option configures SignedDistances.
type Option func(*options) error

// WithWorkers sets the number of goroutines evaluating queries.
// The default is runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return configErrorf("worker count must be positive, got %d", n)
		}
		o.workers = n
		return nil
	}
}

// WithChunkSize sets how many consecutive query points a worker takes
// at a time.
func WithChunkSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return configErrorf("chunk size must be positive, got %d", n)
		}
		o.chunk = n
		return nil
	}
}

// WithLogger sets the logger runs are reported to.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithLimit ignores surface farther than limit from a query point.
// Points with no surface within limit get NaN.
func WithLimit(limit float64) Option {
	return func(o *options) error {
		if !(limit >= 0) {
			return configErrorf("distance limit must be non-negative, got %v", limit)
		}
		o.limit = limit
		return nil
	}
}

func newOptions(opts []Option) (options, error) {
	o := options{
		workers: runtime.GOMAXPROCS(0),
		chunk:   DefaultChunkSize,
		logger:  zap.NewNop().Sugar(),
		limit:   math.Inf(1),
	}
	var err error
	for _, opt := range opts {
		err = multierr.Append(err, opt(&o))
	}
	return o, err
}

type chunk struct{ start, end int }

// SignedDistances evaluates the signed distance from every point to the
// surface indexed by idx, classifying points with winding w. The result
// holds one value per point in input order and does not depend on the
// number of workers. Non-finite points get NaN.
//
// An undefined winding or invalid option fails with a *ConfigurationError
// before any point is evaluated. Cancelling ctx stops the workers at the
// next chunk boundary and returns the context's error.
func SignedDistances(ctx context.Context, idx *Index, points []r3.Vec, w Winding, opts ...Option) ([]float64, error) {
	if _, err := w.classifier(); err != nil {
		return nil, err
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results := make([]float64, len(points))
	numChunks := (len(points) + o.chunk - 1) / o.chunk
	workers := o.workers
	if workers > numChunks {
		workers = numChunks
	}

	evals := make([]*Evaluator, workers)
	for i := range evals {
		if evals[i], err = NewEvaluator(idx, w); err != nil {
			return nil, err
		}
	}

	chunks := make(chan chunk)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		for s := 0; s < len(points); s += o.chunk {
			c := chunk{start: s, end: s + o.chunk}
			if c.end > len(points) {
				c.end = len(points)
			}
			select {
			case chunks <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for _, eval := range evals {
		eval := eval
		g.Go(func() error {
			for c := range chunks {
				if err := gctx.Err(); err != nil {
					return err
				}
				eval.fill(results[c.start:c.end], points[c.start:c.end], o.limit)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var nans int
	for _, v := range results {
		if math.IsNaN(v) {
			nans++
		}
	}
	o.logger.Debugw("evaluated signed distances",
		"points", len(points),
		"winding", w,
		"workers", workers,
		"nan", nans,
		"elapsed", time.Since(start),
	)
	return results, nil
}

// fill writes the signed distance of points[i] to dst[i].
func (e *Evaluator) fill(dst []float64, points []r3.Vec, limit float64) {
	if math.IsInf(limit, 1) {
		for i, q := range points {
			dst[i] = e.SignedDistance(q)
		}
		return
	}
	for i, q := range points {
		dst[i], _ = e.SignedDistanceLimited(q, limit)
	}
}

// Config holds the settings of a Run.
type Config struct {
	// Winding names the winding method, see ParseWinding. Empty means EVEN_ODD.
	Winding string
	// Workers is the number of evaluating goroutines. Zero means GOMAXPROCS.
	Workers int
	// ChunkSize is the number of points evaluated between cancellation
	// checks. Zero means DefaultChunkSize.
	ChunkSize int
	// Limit, when positive, ignores surface farther than Limit from a point.
	Limit float64
}

// Validate checks the configuration, reporting every problem found
// as a single *ConfigurationError.
func (cfg *Config) Validate() error {
	_, err := cfg.options()
	return err
}

func (cfg *Config) winding() (Winding, error) {
	if cfg.Winding == "" {
		return EvenOdd, nil
	}
	return ParseWinding(cfg.Winding)
}

func (cfg *Config) options() ([]Option, error) {
	var (
		opts []Option
		err  error
	)
	if _, werr := cfg.winding(); werr != nil {
		err = multierr.Append(err, werr)
	}
	if cfg.Workers < 0 {
		err = multierr.Append(err, configErrorf("worker count must not be negative, got %d", cfg.Workers))
	} else if cfg.Workers > 0 {
		opts = append(opts, WithWorkers(cfg.Workers))
	}
	if cfg.ChunkSize < 0 {
		err = multierr.Append(err, configErrorf("chunk size must not be negative, got %d", cfg.ChunkSize))
	} else if cfg.ChunkSize > 0 {
		opts = append(opts, WithChunkSize(cfg.ChunkSize))
	}
	switch {
	case math.IsNaN(cfg.Limit) || cfg.Limit < 0:
		err = multierr.Append(err, configErrorf("distance limit must not be negative, got %v", cfg.Limit))
	case cfg.Limit > 0:
		opts = append(opts, WithLimit(cfg.Limit))
	}
	if err != nil {
		return nil, configWrap(err, "invalid configuration")
	}
	return opts, nil
}

// Run indexes mesh and evaluates the signed distance of every point
// according to cfg. The configuration is validated before the index
// is built.
func Run(ctx context.Context, cfg Config, mesh *Mesh, points []r3.Vec, logger *zap.SugaredLogger) ([]float64, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	w, _ := cfg.winding()
	idx, err := NewIndex(mesh, logger)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	dists, err := SignedDistances(ctx, idx, points, w, append(opts, WithLogger(logger))...)
	if err != nil {
		return nil, err
	}
	sum := Summarize(dists)
	logger.Infow("signed distance run complete",
		"triangles", mesh.NumTriangles(),
		"degenerate", idx.Degenerate(),
		"points", sum.N,
		"nan", sum.NaN,
		"inside", sum.Inside,
		"winding", w,
		"elapsed", time.Since(start),
	)
	return dists, nil
}
