package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
)

// googleChunk is one streamGenerateContent SSE data frame.
type googleChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				FunctionCall *struct {
					Name string                 `json:"name"`
					Args map[string]interface{} `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// streamGoogleSSE reads a Gemini streamGenerateContent `alt=sse` body and
// translates each chunk into text_delta / tool_use_block events, followed
// by a single stop event at end of stream.
func streamGoogleSSE(ctx context.Context, body io.Reader, onEvent func(orchestrator.LLMStreamEvent) error) error {
	toolSeq := 0
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var chunk googleChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text != "" {
				if err := onEvent(orchestrator.LLMStreamEvent{
					Type:      orchestrator.LLMEventTextDelta,
					TextDelta: part.Text,
				}); err != nil {
					return err
				}
			}
			if part.FunctionCall != nil {
				toolSeq++
				if err := onEvent(orchestrator.LLMStreamEvent{
					Type:      orchestrator.LLMEventToolUse,
					ToolUseID: functionCallID(toolSeq),
					ToolName:  part.FunctionCall.Name,
					ToolInput: part.FunctionCall.Args,
				}); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return onEvent(orchestrator.LLMStreamEvent{Type: orchestrator.LLMEventStop})
}

// functionCallID synthesizes a tool-use id: Gemini's functionCall has no
// id of its own, unlike OpenAI/Anthropic tool calls.
func functionCallID(seq int) string {
	return "google-call-" + strconv.Itoa(seq)
}
