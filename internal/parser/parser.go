package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/internal/patcher"
	"github.com/sokinpui/udiff/internal/ui"
	"github.com/sokinpui/udiff/model"
)

const devNull = "/dev/null"

// ExecutionPlan contains all the changes and setup needed for an operation.
type ExecutionPlan struct {
	Changes      []model.FileChange
	FileActions  map[string]string // Maps absolute path to a model.Action*
	DirsToCreate map[string]struct{}
	Failed       []string
}

var (
	pathInHintRegex = regexp.MustCompile("`([^`\n]+)`")
	// newFileHeaderRegex finds the '+++ ' line of each file in a diff.
	newFileHeaderRegex = regexp.MustCompile(`(?m)^\+\+\+ (?P<path>[^\t\n]*)`)
	oldFileHeaderRegex = regexp.MustCompile(`(?m)^--- (?P<path>[^\t\n]*)`)
)

// CreatePlan parses content and generates a plan of file changes.
func CreatePlan(ctx context.Context, content string, resolver *fs.PathResolver, p *patcher.Patcher, extensions []string) (*ExecutionPlan, error) {
	blocks, err := ExtractCodeBlocks([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse markdown: %w", err)
	}

	// If '.diff' is the ONLY extension, we are in a special diff-only mode.
	isDiffOnlyMode := len(extensions) == 1 && extensions[0] == ".diff"

	var fileBlocks []model.FileChange
	if !isDiffOnlyMode {
		// An empty extensions list means "no filter".
		fileBlocks = parseFileBlocks(blocks, resolver, extensions)
	}

	diffBlocks := ExtractDiffBlocks(blocks)

	ui.Header("--- Applying changes ---")

	patcherExtensions := extensions
	if isDiffOnlyMode {
		patcherExtensions = nil
	}
	patchedChanges, failed, err := p.GeneratePatchedContents(ctx, diffBlocks, patcherExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed during patch generation: %w", err)
	}

	// Combine changes, letting file blocks overwrite diff patches for the same file.
	order := make([]string, 0, len(patchedChanges)+len(fileBlocks))
	finalChanges := make(map[string]model.FileChange)
	add := func(change model.FileChange) {
		if _, seen := finalChanges[change.Path]; !seen {
			order = append(order, change.Path)
		}
		finalChanges[change.Path] = change
	}
	for _, change := range patchedChanges {
		add(change)
	}
	for _, block := range fileBlocks {
		add(block)
	}

	planChanges := make([]model.FileChange, 0, len(order))
	deletes := make(map[string]bool)
	for _, path := range order {
		change := finalChanges[path]
		if change.Action == model.ActionDelete {
			deletes[path] = true
		}
		planChanges = append(planChanges, change)
	}

	actions, dirs := fs.GetFileActionsAndDirs(order, deletes)
	for i := range planChanges {
		if action, ok := actions[planChanges[i].Path]; ok {
			planChanges[i].Action = action
		}
	}
	return &ExecutionPlan{
		Changes:      planChanges,
		FileActions:  actions,
		DirsToCreate: dirs,
		Failed:       failed,
	}, nil
}

func parseFileBlocks(blocks []CodeBlock, resolver *fs.PathResolver, extensions []string) []model.FileChange {
	var changes []model.FileChange
	for _, block := range blocks {
		if isDiffLang(block.Lang) {
			continue // Diffs are handled separately.
		}

		filePath := extractPathFromHint(block.Hint)
		if filePath == "" {
			continue
		}
		if !hasAllowedExtension(filePath, extensions) {
			continue
		}

		content := strings.TrimRight(block.Content, "\n")
		if content != "" {
			content += "\n"
		}

		path := resolver.Resolve(filePath)
		original, _, err := fs.ReadText(path)
		if err != nil {
			ui.Warning("Could not read %s, treating it as empty: %v", path, err)
		}
		changes = append(changes, model.FileChange{
			Path:     path,
			Content:  content,
			Original: original,
			Source:   "codeblock",
		})
	}
	return changes
}

// ExtractDiffBlocks finds every diff fence and splits it into one block per
// file. A diff without file headers is attributed to the path in its hint.
func ExtractDiffBlocks(blocks []CodeBlock) []model.DiffBlock {
	var diffs []model.DiffBlock
	for _, block := range blocks {
		if !isDiffLang(block.Lang) {
			continue
		}
		raw := strings.TrimSpace(block.Content) + "\n"

		if split, ok := splitWithGoDiff(raw); ok {
			diffs = append(diffs, split...)
			continue
		}
		split := splitByHeaders(raw)
		if len(split) == 0 {
			if hinted := extractPathFromHint(block.Hint); hinted != "" && strings.Contains(raw, "@@") {
				split = []model.DiffBlock{{FilePath: hinted, RawContent: raw}}
			}
		}
		if len(split) == 0 {
			ui.Warning("Found a diff block but could not extract a file path. Skipping.")
			continue
		}
		diffs = append(diffs, split...)
	}
	return diffs
}

// splitWithGoDiff splits a well-formed multi-file diff. It reports false
// when the text does not parse or carries no file headers.
func splitWithGoDiff(raw string) ([]model.DiffBlock, bool) {
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(raw))
	if err != nil || len(fileDiffs) == 0 {
		return nil, false
	}

	var out []model.DiffBlock
	for _, fd := range fileDiffs {
		if fd == nil || (fd.OrigName == "" && fd.NewName == "") {
			return nil, false
		}
		isNew := fd.OrigName == devNull
		isDelete := fd.NewName == devNull
		name := fd.NewName
		if isDelete {
			name = fd.OrigName
		}
		path := cleanDiffPath(name)
		if path == "" || !countsMatch(fd) {
			return nil, false
		}
		printed, err := godiff.PrintFileDiff(fd)
		if err != nil {
			return nil, false
		}
		out = append(out, model.DiffBlock{
			FilePath:   path,
			RawContent: string(printed),
			IsNew:      isNew,
			IsDelete:   isDelete,
		})
	}
	return out, true
}

// countsMatch reports whether every hunk body holds the number of lines its
// header announces. Hand-written diffs often get this wrong, and then the
// file boundaries found by the parser cannot be trusted either.
func countsMatch(fd *godiff.FileDiff) bool {
	for _, h := range fd.Hunks {
		var orig, added int32
		for _, line := range strings.Split(strings.TrimSuffix(string(h.Body), "\n"), "\n") {
			if line == "" {
				orig++
				added++
				continue
			}
			switch line[0] {
			case ' ':
				orig++
				added++
			case '-':
				orig++
			case '+':
				added++
			}
		}
		if orig != h.OrigLines || added != h.NewLines {
			return false
		}
	}
	return true
}

// splitByHeaders is the tolerant fallback: it cuts the diff at every
// '--- ' line directly followed by a '+++ ' line.
func splitByHeaders(raw string) []model.DiffBlock {
	lines := strings.SplitAfter(raw, "\n")
	var starts []int
	for i := 0; i+1 < len(lines); i++ {
		if strings.HasPrefix(lines[i], "--- ") && strings.HasPrefix(lines[i+1], "+++ ") {
			starts = append(starts, i)
		}
	}

	var out []model.DiffBlock
	for n, start := range starts {
		end := len(lines)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		section := strings.Join(lines[start:end], "")

		oldName := headerPath(oldFileHeaderRegex, section)
		newName := headerPath(newFileHeaderRegex, section)
		block := model.DiffBlock{
			RawContent: section,
			IsNew:      oldName == devNull,
			IsDelete:   newName == devNull,
		}
		name := newName
		if block.IsDelete {
			name = oldName
		}
		block.FilePath = cleanDiffPath(name)
		if block.FilePath == "" {
			continue
		}
		out = append(out, block)
	}
	return out
}

func headerPath(re *regexp.Regexp, section string) string {
	if match := re.FindStringSubmatch(section); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// cleanDiffPath strips quotes and the a/ or b/ prefix from a header name.
func cleanDiffPath(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "\"")
	if name == devNull {
		return ""
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

func isDiffLang(lang string) bool {
	return lang == "diff" || lang == "patch" || lang == "udiff"
}

func extractPathFromHint(hint string) string {
	hint = strings.TrimSpace(hint)

	// A path hint must be enclosed in backticks, e.g., `path/to/file.go`
	if match := pathInHintRegex.FindStringSubmatch(hint); len(match) > 1 {
		path := strings.TrimSpace(match[1])
		// Disallow spaces to avoid capturing commands like `go run main.go` as a path.
		if !strings.Contains(path, " ") {
			return path
		}
	}

	return ""
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
