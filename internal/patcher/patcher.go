package patcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/internal/ui"
	"github.com/sokinpui/udiff/model"
	"github.com/sokinpui/udiff/patch"
)

// maxWorkers bounds how many files are patched at once.
const maxWorkers = 8

// Options configures a Patcher.
type Options struct {
	FuzzFactor int
	// NoFix disables hunk repair for diffs that do not apply as written.
	NoFix bool
}

// Patcher turns diff blocks into final file contents.
type Patcher struct {
	engine   *patch.Engine
	resolver *fs.PathResolver
	opts     Options
}

// New creates a Patcher. A nil engine uses patch.Default.
func New(engine *patch.Engine, resolver *fs.PathResolver, opts Options) *Patcher {
	if engine == nil {
		engine = patch.Default
	}
	return &Patcher{engine: engine, resolver: resolver, opts: opts}
}

// fileDiffs is every diff block aimed at one file, in source order.
type fileDiffs struct {
	path   string
	blocks []model.DiffBlock
}

// GeneratePatchedContents applies diffs to produce final file contents.
// Files are patched concurrently; the returned changes keep the order in
// which each file first appeared. Paths whose diffs could not be applied
// are returned in failed.
func (p *Patcher) GeneratePatchedContents(ctx context.Context, diffs []model.DiffBlock, extensions []string) (changes []model.FileChange, failed []string, err error) {
	groups := groupByFile(diffs, extensions)
	if len(groups) == 0 {
		return nil, nil, nil
	}
	ui.Info("\nFound %d diff block(s) for %d file(s) to process.", len(diffs), len(groups))

	results := make([]*model.FileChange, len(groups))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, group := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			change, err := p.patchFile(group)
			if err != nil {
				ui.Error("  -> Failed to apply patch for %s: %v", group.path, err)
				mu.Lock()
				failed = append(failed, group.path)
				mu.Unlock()
				return nil
			}
			ui.Success("  -> Successfully generated patch for: %s", group.path)
			results[i] = change
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, change := range results {
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, sortedLike(failed, groups), nil
}

// patchFile applies all diffs of one file to its current content. The
// blocks are first applied as written; when that fails each block is
// repaired against the text it is applied to.
func (p *Patcher) patchFile(group fileDiffs) (*model.FileChange, error) {
	sourcePath := p.resolver.ResolveExisting(group.path)
	var base string
	if sourcePath != "" {
		content, _, err := fs.ReadText(sourcePath)
		if err != nil {
			return nil, err
		}
		base = content
	}

	change := &model.FileChange{
		Path:     p.resolver.Resolve(group.path),
		Original: base,
		Action:   model.ActionModify,
		Source:   "diff",
	}
	if sourcePath == "" {
		change.Action = model.ActionCreate
	}

	texts := make([]string, len(group.blocks))
	for i, b := range group.blocks {
		texts[i] = b.RawContent
	}
	res, err := p.engine.ApplyMultiplePatches(texts, base, patch.WithFuzzFactor(p.opts.FuzzFactor))
	if err == nil && res.Applied() {
		change.Content = res.Text
		return finish(change, group, sourcePath), nil
	}
	if p.opts.NoFix {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", res.Failure)
	}

	text := base
	for i, block := range group.blocks {
		ui.Info("  -> Correcting diff %d for: %s", i+1, group.path)
		fp, err := CorrectDiff(text, block.RawContent, group.path)
		if err != nil {
			return nil, fmt.Errorf("diff correction failed: %w", err)
		}
		res := p.engine.Apply(fp, text, patch.WithFuzzFactor(p.opts.FuzzFactor))
		if !res.Applied() {
			return nil, fmt.Errorf("corrected diff %d did not apply: %s", i+1, res.Failure)
		}
		text = res.Text
	}
	change.Content = text
	return finish(change, group, sourcePath), nil
}

// finish marks the change as a deletion when the last diff removes the file.
func finish(change *model.FileChange, group fileDiffs, sourcePath string) *model.FileChange {
	last := group.blocks[len(group.blocks)-1]
	if last.IsDelete && change.Content == "" && sourcePath != "" {
		change.Action = model.ActionDelete
	}
	return change
}

// FixDiffs repairs each block against the file on disk without applying it
// and returns the corrected diff text per block.
func (p *Patcher) FixDiffs(diffs []model.DiffBlock) ([]string, error) {
	var out []string
	texts := make(map[string]string)
	for _, d := range diffs {
		text, ok := texts[d.FilePath]
		if !ok {
			if sourcePath := p.resolver.ResolveExisting(d.FilePath); sourcePath != "" {
				content, _, err := fs.ReadText(sourcePath)
				if err != nil {
					return nil, err
				}
				text = content
			}
		}
		fp, err := CorrectDiff(text, d.RawContent, d.FilePath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.FilePath, err)
		}
		if d.IsNew {
			fp.OldName = "/dev/null"
		}
		if d.IsDelete {
			fp.NewName = "/dev/null"
		}
		// Later diffs for the same file see the result of earlier ones.
		if res := p.engine.Apply(fp, text, patch.WithFuzzFactor(p.opts.FuzzFactor)); res.Applied() {
			texts[d.FilePath] = res.Text
		} else {
			texts[d.FilePath] = text
		}
		out = append(out, fp.String())
	}
	return out, nil
}

func groupByFile(diffs []model.DiffBlock, extensions []string) []fileDiffs {
	var groups []fileDiffs
	index := make(map[string]int)
	for _, d := range diffs {
		if !hasAllowedExtension(d.FilePath, extensions) {
			continue
		}
		i, ok := index[d.FilePath]
		if !ok {
			i = len(groups)
			index[d.FilePath] = i
			groups = append(groups, fileDiffs{path: d.FilePath})
		}
		groups[i].blocks = append(groups[i].blocks, d)
	}
	return groups
}

// sortedLike orders failed paths the way their groups appear.
func sortedLike(failed []string, groups []fileDiffs) []string {
	if len(failed) < 2 {
		return failed
	}
	set := make(map[string]bool, len(failed))
	for _, f := range failed {
		set[f] = true
	}
	out := make([]string, 0, len(failed))
	for _, g := range groups {
		if set[g.path] {
			out = append(out, g.path)
		}
	}
	return out
}

func hasAllowedExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, allowedExt := range extensions {
		if ext == allowedExt {
			return true
		}
	}
	return false
}
