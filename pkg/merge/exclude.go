package merge

import (
	"fmt"

	"github.com/moby/patternmatcher"

	"github.com/orf/docker-repack/pkg/repackerr"
	"github.com/orf/docker-repack/pkg/tarentry"
)

// ExcludeFilter matches merged paths (and sym/hardlink targets) against a
// set of glob patterns, per original spec §4.2's "optional exclusion
// filter". It's backed by the same .dockerignore-style pattern matcher
// Docker's own build context uses, rather than a hand-rolled glob.
type ExcludeFilter struct {
	matcher *patternmatcher.PatternMatcher
}

// NewExcludeFilter compiles patterns into a filter. An empty pattern list
// yields a filter that excludes nothing.
func NewExcludeFilter(patterns []string) (*ExcludeFilter, error) {
	if len(patterns) == 0 {
		return &ExcludeFilter{}, nil
	}
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling exclude patterns: %v", repackerr.ErrInputMalformed, err)
	}
	return &ExcludeFilter{matcher: pm}, nil
}

// Excludes reports whether path or target (for sym/hardlinks; pass "" when
// not applicable) matches the configured patterns.
func (f *ExcludeFilter) Excludes(path, target string) bool {
	if f == nil || f.matcher == nil {
		return false
	}
	if matched, err := f.matcher.MatchesOrParentMatches(path); err == nil && matched {
		return true
	}
	if target == "" {
		return false
	}
	matched, err := f.matcher.MatchesOrParentMatches(target)
	return err == nil && matched
}

// Apply removes every excluded path from merged, updating Stats.Excluded.
func Apply(merged *MergedContent, filter *ExcludeFilter) {
	if filter == nil || filter.matcher == nil {
		return
	}
	var toDelete []string
	merged.Paths.Each(func(path string, item tarentry.TarItem) bool {
		target := ""
		if item.Kind == tarentry.KindSymlink || item.Kind == tarentry.KindHardLink {
			target = item.Target
		}
		if filter.Excludes(path, target) {
			toDelete = append(toDelete, path)
		}
		return true
	})
	for _, path := range toDelete {
		if old, ok := merged.Paths.Delete(path); ok {
			merged.Stats.Excluded++
			merged.Stats.RemovedBytes += old.Size
		}
	}
}
