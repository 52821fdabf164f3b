package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
)

// openAIChunk is the common shape of one SSE data line from OpenAI- and
// Groq-compatible chat-completions streaming endpoints.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// streamOpenAICompatibleSSE reads an OpenAI-compatible `text/event-stream`
// body line by line, decoding each "data: {...}" frame and translating it
// into text_delta / tool_use_block / stop events. The stream terminates on
// a "data: [DONE]" sentinel or EOF. Tool-call argument fragments are
// accumulated per tool_call id and emitted as one tool_use_block once the
// arguments are complete (signalled by a finish_reason of "tool_calls" or
// by the stream ending).
func streamOpenAICompatibleSSE(ctx context.Context, body io.Reader, onEvent func(orchestrator.LLMStreamEvent) error) error {
	type pendingTool struct {
		name string
		args strings.Builder
	}
	pending := make(map[string]*pendingTool)
	var order []string

	flushTools := func() error {
		for _, id := range order {
			t := pending[id]
			var input map[string]interface{}
			if t.args.Len() > 0 {
				_ = json.Unmarshal([]byte(t.args.String()), &input)
			}
			if err := onEvent(orchestrator.LLMStreamEvent{
				Type:      orchestrator.LLMEventToolUse,
				ToolUseID: id,
				ToolName:  t.name,
				ToolInput: input,
			}); err != nil {
				return err
			}
		}
		pending = make(map[string]*pendingTool)
		order = nil
		return nil
	}

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
		if data == "[DONE]" {
			if err := flushTools(); err != nil {
				return err
			}
			return onEvent(orchestrator.LLMStreamEvent{Type: orchestrator.LLMEventStop})
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if err := onEvent(orchestrator.LLMStreamEvent{
				Type:      orchestrator.LLMEventTextDelta,
				TextDelta: choice.Delta.Content,
			}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			id := tc.ID
			if id == "" && len(order) > 0 {
				// Some providers omit the id on continuation fragments;
				// attribute to the most recently seen tool call.
				id = order[len(order)-1]
			}
			t, ok := pending[id]
			if !ok {
				t = &pendingTool{}
				pending[id] = t
				order = append(order, id)
			}
			if tc.Function.Name != "" {
				t.name = tc.Function.Name
			}
			t.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			if err := flushTools(); err != nil {
				return err
			}
			return onEvent(orchestrator.LLMStreamEvent{Type: orchestrator.LLMEventStop})
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flushTools(); err != nil {
		return err
	}
	return onEvent(orchestrator.LLMStreamEvent{Type: orchestrator.LLMEventStop})
}
