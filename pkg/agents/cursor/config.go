package cursor

import (
	"encoding/json"
	"fmt"
)

// Options is the cursor-specific slice of an AgentConfig's options blob.
type Options struct {
	// Force auto-approves commands without prompting. Cursor has no runtime
	// approval channel; this flag is the whole permission story.
	Force bool `json:"force,omitempty"`

	// Model overrides the CLI's default model (e.g. "sonnet-4.5", "auto").
	Model string `json:"model,omitempty"`

	// CustomPath overrides executable resolution.
	CustomPath string `json:"custom_path,omitempty"`
}

// DecodeOptions parses the opaque options blob. A nil blob yields defaults.
func DecodeOptions(raw json.RawMessage) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("cursor options: %w", err)
	}
	return opts, nil
}
