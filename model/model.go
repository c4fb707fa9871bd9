package model

// File actions recorded in plans and history.
const (
	ActionCreate = "create"
	ActionModify = "modify"
	ActionDelete = "delete"
)

// FileChange represents a single planned change to a file.
type FileChange struct {
	Path     string
	Content  string
	Original string // content before the change, empty for new files
	Action   string
	Source   string // "diff", "codeblock", "library", "tool", "history"
}

// DiffBlock represents one file's worth of a diff found in the source content.
type DiffBlock struct {
	FilePath   string
	RawContent string
	IsNew      bool
	IsDelete   bool
}

// ToolCall is a JSON tool invocation read from the source content.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created  []string
	Modified []string
	Deleted  []string
	Failed   []string
	Message  string
}
