package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/runctx"
)

func uploadContentLoadTool() Tool {
	return Tool{
		Name: "upload_content_load",
		Description: "Load the markdown content of an uploaded document by upload id. The content " +
			"collapses on later turns; refetch if needed again.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"upload_id": {"type": "string"}
			},
			"required": ["upload_id"]
		}`),
		Oversize: true,
		Handler:  handleUploadContentLoad,
	}
}

func handleUploadContentLoad(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		UploadID string `json:"upload_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.UploadID) == "" {
		return "", fmt.Errorf("upload_id is required")
	}

	if cached, ok := rc.UploadContents[in.UploadID]; ok {
		return cached, nil
	}
	content, err := rc.Scratchpad.GetUploadContent(ctx, rc.APIToken, in.UploadID)
	if err != nil {
		return "", fmt.Errorf("load upload %s: %w", in.UploadID, err)
	}
	if rc.UploadContents != nil {
		rc.UploadContents[in.UploadID] = content
	}
	return content, nil
}
