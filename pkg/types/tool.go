package types

// Tool is a function declaration the model may invoke.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolChoiceType selects how the model should pick among declared Tools.
type ToolChoiceType string

const (
	ToolChoiceAuto ToolChoiceType = "auto"
	ToolChoiceNone ToolChoiceType = "none"
	ToolChoiceTool ToolChoiceType = "tool"
)

// ToolChoice is auto, none, or a named-function selector.
type ToolChoice struct {
	Type     ToolChoiceType `json:"type"`
	ToolName string         `json:"tool_name,omitempty"`
}

// AutoToolChoice returns the default "let the model decide" choice.
func AutoToolChoice() ToolChoice { return ToolChoice{Type: ToolChoiceAuto} }
