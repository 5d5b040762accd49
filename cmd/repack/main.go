// Command repack is the process entrypoint for the repack pipeline
// (original spec §4.11/§6, component K): it parses the CLI surface, wires
// an image source and a registry credential chain into pkg/repack, and
// reports a single formatted error chain on any fatal failure.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/planner"
	"github.com/orf/docker-repack/pkg/repack"
	"github.com/orf/docker-repack/pkg/registryauth"
)

type cliOptions struct {
	targetSize       uint64
	splitFiles       uint64
	splitFilesSet    bool
	compressionLevel int
	skipCompression  bool
	exclude          []string
	keepTempFiles    bool
	planner          string
	platform         string
	verbose          bool
	tag              string
	workers          int
}

func main() {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "repack <input> <output-dir>",
		Short: "Repack an OCI image into content-addressed, size-bounded layers",
		Long: "repack merges an image's layer stack into a single logical filesystem, " +
			"deduplicates identical file content, bin-packs entries into new layers " +
			"bounded by a target compressed size, and writes the result as an OCI " +
			"image directory.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.splitFilesSet = cmd.Flags().Changed("split-files")
			return run(cmd.Context(), args[0], args[1], opts)
		},
	}

	flags := cmd.Flags()
	flags.Uint64Var(&opts.targetSize, "target-size", 0, "compressed-size budget (bytes) for output layers (required)")
	flags.Uint64Var(&opts.splitFiles, "split-files", 0, "enable oversized-file chunking with this chunk size in bytes")
	flags.IntVar(&opts.compressionLevel, "compression-level", 7, "zstd compression level")
	flags.BoolVar(&opts.skipCompression, "skip-compression", false, "store output layers uncompressed")
	flags.StringArrayVar(&opts.exclude, "exclude", nil, "glob pattern to exclude from the output (repeatable)")
	flags.BoolVar(&opts.keepTempFiles, "keep-temp-files", false, "keep <output>/temp after the run instead of deleting it")
	flags.StringVar(&opts.planner, "planner", "first-fit", "bin-packing strategy: first-fit or adaptive")
	flags.StringVar(&opts.platform, "platform", "linux/amd64", "platform to select from a multi-platform image")
	flags.StringVar(&opts.tag, "tag", "", "manifest annotation to select from a local multi-manifest index")
	flags.IntVar(&opts.workers, "workers", 0, "decompress/enumerate/execute concurrency (default: GOMAXPROCS)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.MarkFlagRequired("target-size")

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("repack failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, input, outDir string, c *cliOptions) error {
	if c.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	plannerKind, err := parsePlannerKind(c.planner)
	if err != nil {
		return err
	}
	platform, err := parsePlatform(c.platform)
	if err != nil {
		return err
	}

	in := repack.Input{Tag: c.tag}
	if isLocalDir(input) {
		in.LocalDir = input
	} else {
		in.Remote = input
	}

	repackOpts := repack.Options{
		TargetSize:       c.targetSize,
		SplitFiles:       c.splitFilesSet,
		SplitThreshold:   c.splitFiles,
		CompressionLevel: c.compressionLevel,
		SkipCompression:  c.skipCompression,
		Exclude:          c.exclude,
		PlannerKind:      plannerKind,
		Platform:         platform,
		Workers:          c.workers,
		KeepTempFiles:    c.keepTempFiles,
		Auth:             registryauth.DefaultChain(),
		CreatedBy:        "docker-repack",
	}

	log.Info().Str("input", input).Str("output", outDir).Uint64("target-size", c.targetSize).Msg("starting repack")

	if err := repack.Repack(ctx, in, outDir, repackOpts); err != nil {
		return fmt.Errorf("repack %s: %w", input, err)
	}
	return nil
}

// isLocalDir distinguishes a local OCI-layout directory from a registry
// reference: an existing directory on disk wins over a host/repo string
// that happens to resemble one.
func isLocalDir(input string) bool {
	info, err := os.Stat(input)
	return err == nil && info.IsDir()
}

func parsePlannerKind(s string) (planner.Kind, error) {
	switch strings.ToLower(s) {
	case "", "first-fit", "firstfit":
		return planner.KindFirstFit, nil
	case "adaptive":
		return planner.KindAdaptive, nil
	default:
		return 0, fmt.Errorf("invalid --planner %q: expected \"first-fit\" or \"adaptive\"", s)
	}
}

// parsePlatform parses an "os/arch[/variant]" string into an OCI platform,
// defaulting to linux/amd64 when s is empty.
func parsePlatform(s string) (ispec.Platform, error) {
	if s == "" {
		return ispec.Platform{OS: "linux", Architecture: "amd64"}, nil
	}
	parts := strings.SplitN(s, "/", 3)
	if len(parts) < 2 {
		return ispec.Platform{}, fmt.Errorf("invalid --platform %q: expected \"os/arch\" or \"os/arch/variant\"", s)
	}
	p := ispec.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}
