package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/loomlabs/loom/pkg/models"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo back"`
}

// EchoTool returns its argument unchanged. It is the smallest useful
// built-in: a smoke test for the tool path end to end.
type EchoTool struct {
	schema json.RawMessage
}

// NewEchoTool creates the echo tool.
func NewEchoTool() *EchoTool {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&echoArgs{})
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		data = json.RawMessage(`{"type":"object"}`)
	}
	return &EchoTool{schema: data}
}

// Name implements Tool.
func (t *EchoTool) Name() string { return "echo" }

// Description implements Tool.
func (t *EchoTool) Description() string { return "Echo the given message back verbatim." }

// Schema implements Tool.
func (t *EchoTool) Schema() json.RawMessage { return t.schema }

// Execute implements Tool.
func (t *EchoTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	var params echoArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return &ToolResult{Content: params.Message, Kind: models.ResultText}, nil
}
