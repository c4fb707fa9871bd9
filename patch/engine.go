package patch

import (
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// Engine creates and applies patches. It holds no mutable state and may be
// shared between goroutines.
type Engine struct {
	logger *zap.Logger
}

// NewEngine returns an engine that reports apply diagnostics to logger.
// A nil logger discards them.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Default is the engine behind the package-level functions.
var Default = NewEngine(nil)

type options struct {
	context    int
	contextSet bool
	fuzzFactor int
}

// Option tunes CreatePatch and the apply operations.
type Option func(*options)

// WithContext sets how many unchanged lines surround each hunk created by
// CreatePatch. Negative values are ignored.
func WithContext(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.context = n
			o.contextSet = true
		}
	}
}

// WithFuzzFactor sets how many context or removed lines of a hunk may
// mismatch the base text before the hunk is rejected.
func WithFuzzFactor(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.fuzzFactor = n
		}
	}
}

func collect(opts []Option) options {
	o := options{context: DefaultContext}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newMatcher returns a diffmatchpatch instance tuned for line diffs.
func newMatcher() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return dmp
}

// CreatePatch calls Default.CreatePatch.
func CreatePatch(oldLabel, newLabel, oldText, newText string, opts ...Option) string {
	return Default.CreatePatch(oldLabel, newLabel, oldText, newText, opts...)
}

// ApplyPatch calls Default.ApplyPatch.
func ApplyPatch(patchText, baseText string, opts ...Option) (Result, error) {
	return Default.ApplyPatch(patchText, baseText, opts...)
}

// ApplyMultiplePatches calls Default.ApplyMultiplePatches.
func ApplyMultiplePatches(patches []string, initialText string, opts ...Option) (Result, error) {
	return Default.ApplyMultiplePatches(patches, initialText, opts...)
}
