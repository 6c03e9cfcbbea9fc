// Command hydromat converts a hydrodynamic model result archive into a
// dual-orientation matrix store: per parameter one space-major matrix (a
// column per timestep) and its time-major transpose, plus the permuted mesh
// coordinates and selected timestamps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/OceanMetSEPA/hydromat/internal/archive"
	"github.com/OceanMetSEPA/hydromat/internal/config"
	"github.com/OceanMetSEPA/hydromat/internal/export"
	"github.com/OceanMetSEPA/hydromat/internal/logging"
	"github.com/OceanMetSEPA/hydromat/internal/materialize"
	"github.com/OceanMetSEPA/hydromat/internal/metrics"
	"github.com/OceanMetSEPA/hydromat/internal/plan"
	"github.com/OceanMetSEPA/hydromat/internal/store"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hydromat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration")
		in          = flag.String("in", "", "result archive to convert (overrides config)")
		out         = flag.String("out", "", "store directory to write (overrides config)")
		timesteps   = flag.String("timesteps", "", `timesteps to select: "all" or a comma-separated list (overrides config)`)
		stride      = flag.Int("stride", 0, "subsampling interval for contiguous selections (overrides config)")
		workers     = flag.Int("workers", 0, "column workers (overrides config)")
		permutation = flag.String("permutation", "", "spatial permutation sidecar (overrides config)")
		mesh        = flag.String("mesh", "", "mesh coordinate override sidecar (overrides config)")
		quiet       = flag.Bool("quiet", false, "disable progress logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *in != "" {
		cfg.Source.Path = *in
	}
	if *out != "" {
		cfg.Output.Dir = *out
	}
	if *stride > 0 {
		cfg.Selection.Stride = *stride
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *permutation != "" {
		cfg.Source.Permutation = *permutation
	}
	if *mesh != "" {
		cfg.Source.MeshOverride = *mesh
	}
	if *timesteps != "" {
		steps, err := parseTimesteps(*timesteps)
		if err != nil {
			return err
		}
		cfg.Selection.Timesteps = steps
	}
	if *quiet {
		cfg.Verbose = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	runID := logging.NewRunID()
	log := logging.RunLogger(runID, cfg.Source.Path, cfg.Output.Dir)
	log.Info("starting conversion", "version", Version, "git_sha", GitSHA)

	if cfg.Metrics.Enabled {
		metrics.Init("hydromat")
		go func() {
			if err := metrics.Serve(cfg.Metrics.Address); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, err := archive.Open(cfg.Source.Path)
	if err != nil {
		return err
	}
	defer reader.Close()
	md := reader.Metadata()

	if cfg.Source.MeshOverride != "" {
		x, y, z, err := archive.LoadMeshOverride(cfg.Source.MeshOverride)
		if err != nil {
			return err
		}
		if len(x) != md.NumPoints() {
			return fmt.Errorf("mesh override has %d points, archive has %d", len(x), md.NumPoints())
		}
		md.X, md.Y, md.Z = x, y, z
	}

	var explicitPerm []int
	if cfg.Source.Permutation != "" {
		explicitPerm, err = archive.LoadPermutation(cfg.Source.Permutation)
		if err != nil {
			return err
		}
	}

	indexPlan, err := plan.Resolve(plan.ResolveRequest{
		Timesteps:      cfg.Selection.Timesteps,
		Stride:         cfg.Selection.Stride,
		Explicit:       explicitPerm,
		Hint:           md.ReorderHint,
		TotalTimesteps: md.NumTimesteps(),
		TotalPoints:    md.NumPoints(),
	})
	if err != nil {
		return err
	}
	paramPlan, err := plan.SelectParameters(md.Params)
	if err != nil {
		return err
	}

	opts := []store.LocalOption{
		store.WithSource(store.SourceInfo{
			Path:      cfg.Source.Path,
			Title:     md.Title,
			Points:    md.NumPoints(),
			Timesteps: indexPlan.Temporal.Len(),
		}),
		store.WithProducer(store.ProducerInfo{Name: "hydromat", Version: Version}),
	}
	if cfg.Output.Compress {
		opts = append(opts, store.WithCompression())
	}
	sink, err := store.NewLocalStore(cfg.Output.Dir, opts...)
	if err != nil {
		return err
	}
	defer sink.Close()

	mt := materialize.New(reader, sink, indexPlan, paramPlan, materialize.Options{
		Verbose: cfg.Verbose,
		Workers: cfg.Workers,
	})
	if err := mt.Run(ctx); err != nil {
		return err
	}

	if cfg.Parquet.Enabled {
		if err := export.WritePointTable(sink, cfg.Output.Dir); err != nil {
			return err
		}
		if err := export.WriteProbeSeries(sink, cfg.Output.Dir, cfg.Parquet.Probes); err != nil {
			return err
		}
	}

	if err := sink.Finalize(ctx); err != nil {
		return err
	}

	publisher, err := store.NewPublisher(ctx, store.PublishConfig{
		Backend:    cfg.Output.Backend,
		Bucket:     cfg.Output.Bucket,
		Prefix:     cfg.Output.Prefix,
		S3Endpoint: cfg.Output.S3Endpoint,
		S3Region:   cfg.Output.S3Region,
	})
	if err != nil {
		return err
	}
	defer publisher.Close()
	if err := publisher.Upload(ctx, cfg.Output.Dir); err != nil {
		return fmt.Errorf("publish store: %w", err)
	}

	log.Info("conversion complete", "columns", indexPlan.Temporal.Len(), "points", md.NumPoints())
	return nil
}

// parseTimesteps parses the -timesteps flag: "all" (empty selection) or a
// comma-separated list of 1-based timesteps.
func parseTimesteps(s string) ([]int, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	steps := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad timestep %q: %w", p, err)
		}
		steps = append(steps, n)
	}
	return steps, nil
}
