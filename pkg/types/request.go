package types

// Options carries generation hints plus an opaque passthrough bag.
// Recognized fields always win over Extra, so a client cannot use Extra to
// override a field the gateway relies on.
type Options struct {
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty"`
	Stop        []string               `json:"stop,omitempty"`
	User        string                 `json:"user,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// Request is the canonical request shape consumed by the transform and
// dispatch layers, independent of the inbound client dialect.
type Request struct {
	Model      string     `json:"model"`
	Messages   []Message  `json:"messages"`
	Tools      []Tool     `json:"tools,omitempty"`
	ToolChoice ToolChoice `json:"tool_choice,omitempty"`
	Options    Options    `json:"-"`
	Stream     bool       `json:"stream"`

	// Provider is an explicit per-request override of the configured
	// default provider, when the inbound API surface allows one.
	Provider string `json:"-"`
}
