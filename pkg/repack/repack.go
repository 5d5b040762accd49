package repack

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/orf/docker-repack/pkg/combiner"
	"github.com/orf/docker-repack/pkg/executor"
	"github.com/orf/docker-repack/pkg/imagewriter"
	"github.com/orf/docker-repack/pkg/layerstore"
	"github.com/orf/docker-repack/pkg/merge"
	"github.com/orf/docker-repack/pkg/ociinput"
	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// Repack reads the image described by in, repacks it under opts, and
// writes the result as an OCI-layout directory at outDir. outDir's "temp"
// subdirectory holds decompressed source layers and in-progress output
// layer tars for the duration of the run.
func Repack(ctx context.Context, in Input, outDir string, opts Options) error {
	if opts.TargetSize == 0 {
		return fmt.Errorf("%w: target size must be non-zero", repackerr.ErrUnreachableTarget)
	}

	src, err := readSource(ctx, in, opts)
	if err != nil {
		return err
	}

	tempDir := filepath.Join(outDir, "temp")
	store, err := layerstore.Open(tempDir, opts.KeepTempFiles)
	if err != nil {
		return fmt.Errorf("opening layer staging directory: %w", err)
	}
	defer store.Close()

	merged, err := decompressAndMerge(ctx, src, store, opts)
	if err != nil {
		return err
	}

	if len(opts.Exclude) > 0 {
		filter, err := merge.NewExcludeFilter(opts.Exclude)
		if err != nil {
			return err
		}
		merge.Apply(merged, filter)
	}

	log.Info().
		Uint64("added", merged.Stats.Added).
		Uint64("removed", merged.Stats.Removed).
		Uint64("excluded", merged.Stats.Excluded).
		Msg("merged source layers")

	targetSize := opts.TargetSize
	if !opts.SplitFiles {
		if largest := largestRegularFileSize(merged); largest > targetSize {
			log.Warn().
				Uint64("target-size", targetSize).
				Uint64("largest-item", largest).
				Msg("target size unreachable for largest item; raising target size to fit it (config error, original spec §7)")
			targetSize = largest
		}
	}

	plannerOpts := planner.Options{
		TargetSize:       targetSize,
		SplitThreshold:   opts.splitThreshold(),
		Kind:             opts.PlannerKind,
		CompressionLevel: opts.compressionLevel(),
	}
	plan, err := planner.Run(merged, plannerOpts, &storePayloadSource{store: store})
	if err != nil {
		return fmt.Errorf("planning output layers: %w", err)
	}

	combine := combiner.FromChunkRecords(plan.Chunks)
	var tinyBinID tarentry.NewLayerId
	if !combine.IsEmpty() {
		tinyBinID = planner.EnsureTinyItemsBin(plan).ID
	}

	ops := executor.BuildOperations(plan)

	stageDir := filepath.Join(outDir, "temp")
	writers := newWriterRegistry(stageDir)

	sourceProvider := func(id tarentry.SourceLayerId) (executor.SourceLayer, error) {
		l, ok := store.Layer(id)
		if !ok {
			return nil, fmt.Errorf("%w: no decompressed layer %d", repackerr.ErrInputMalformed, id)
		}
		return l, nil
	}

	if err := executor.Execute(ctx, ops, sourceProvider, writers.provider, opts.workers()); err != nil {
		return fmt.Errorf("executing plan: %w", err)
	}

	var combinerScript string
	if !combine.IsEmpty() {
		tinyWriter, err := writers.get(tinyBinID)
		if err != nil {
			return err
		}
		paths, err := combine.WriteToImage(tinyWriter)
		if err != nil {
			return fmt.Errorf("writing combiner artifacts: %w", err)
		}
		if len(paths) > 0 {
			combinerScript = paths[0]
		}
	}

	blobDir := filepath.Join(outDir, "blobs")
	written, err := writers.finishAll(blobDir, !opts.SkipCompression, opts.compressionLevel())
	if err != nil {
		return err
	}

	platform := src.Platform
	if err := imagewriter.AssembleImage(outDir, src.Config, written, &platform, opts.createdBy(), combinerScript); err != nil {
		return fmt.Errorf("assembling output image: %w", err)
	}

	log.Info().Int("layers", len(written)).Str("out", outDir).Msg("repack complete")
	return nil
}

func readSource(ctx context.Context, in Input, opts Options) (*ociinput.SourceImage, error) {
	if in.LocalDir != "" {
		return ociinput.ReadLocal(in.LocalDir, ociinput.ReadLocalOptions{Tag: in.Tag, Platform: opts.Platform})
	}
	return ociinput.ReadRemote(ctx, in.Remote, ociinput.ReadRemoteOptions{Auth: opts.Auth, Platform: opts.Platform})
}

// decompressAndMerge decompresses and enumerates every source layer
// concurrently (bounded by opts.Workers), then folds them into one
// MergedContent strictly in manifest order, per the concurrency model's
// "parallel decompress/enumerate, sequential fold" split.
func decompressAndMerge(ctx context.Context, src *ociinput.SourceImage, store *layerstore.Store, opts Options) (*merge.MergedContent, error) {
	itemsPerLayer := make([][]tarentry.TarItem, len(src.Layers))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, opts.workers())

	for i := range src.Layers {
		i := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			items, err := decompressAndScan(src, store, i)
			if err != nil {
				return err
			}
			itemsPerLayer[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := merge.NewMergedContent()
	for _, items := range itemsPerLayer {
		if err := merged.FoldLayer(items); err != nil {
			return nil, fmt.Errorf("folding layer: %w", err)
		}
	}
	return merged, nil
}

func decompressAndScan(src *ociinput.SourceImage, store *layerstore.Store, i int) ([]tarentry.TarItem, error) {
	rc, err := src.OpenLayer(i)
	if err != nil {
		return nil, fmt.Errorf("opening layer %d: %w", i, err)
	}
	defer rc.Close()

	id := tarentry.SourceLayerId(i)
	layer, err := store.Decompress(id, rc, src.Layers[i].Codec)
	if err != nil {
		return nil, err
	}

	scanner := tarentry.NewScanner(id, layer.ProgressReader())
	var items []tarentry.TarItem
	for {
		item, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scanning layer %d: %w", i, err)
		}
		items = append(items, *item)
	}
	return items, nil
}

// largestRegularFileSize returns the size of the largest regular file in
// merged, used by the unreachable-target fallback (original spec §7,
// Config error: "unreachable target size when splitting is off — fall back
// by raising T to that item's size and warn").
func largestRegularFileSize(merged *merge.MergedContent) uint64 {
	var max uint64
	merged.Paths.Each(func(_ string, item tarentry.TarItem) bool {
		if item.IsRegularFile() && item.Size > max {
			max = item.Size
		}
		return true
	})
	return max
}
