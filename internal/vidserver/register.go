package vidserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anatolykoptev/go_videochat/internal/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// VideoChatInput is the input of the video_chat tool.
type VideoChatInput struct {
	Query      string `json:"query" jsonschema:"question to answer from the video transcript"`
	VidDetails string `json:"vid_details" jsonschema:"YouTube video id or URL"`
}

// VideoChatOutput is the output of the video_chat tool.
type VideoChatOutput struct {
	Answer string `json:"answer"`
}

// RegisterTools registers video_chat on the given MCP server.
func RegisterTools(server *mcp.Server, a Answerer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "video_chat",
		Description: "Answer a question about a YouTube video using only its transcript. Accepts a video id or any YouTube URL. Answers \"I don't know\" when the transcript does not cover the question.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, videoChatTool(a))
}

func videoChatTool(a Answerer) func(context.Context, *mcp.CallToolRequest, VideoChatInput) (*mcp.CallToolResult, VideoChatOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VideoChatInput) (*mcp.CallToolResult, VideoChatOutput, error) {
		engine.IncrVideoChatRequests()
		answer, err := a.Answer(ctx, input.Query, input.VidDetails)
		if err != nil {
			engine.IncrVideoChatErrors()
			if engine.IsValidation(err) {
				return nil, VideoChatOutput{}, errors.New(engine.ValidationMessage(err))
			}
			slog.Error("video_chat failed", slog.Any("error", err))
			return nil, VideoChatOutput{}, errors.New("internal error")
		}
		return nil, VideoChatOutput{Answer: answer}, nil
	}
}
