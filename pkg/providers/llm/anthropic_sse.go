package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
)

// anthropicEvent covers the handful of Messages-API streaming event shapes
// this provider cares about; fields not relevant to a given event type are
// simply left zero.
type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

// streamAnthropicSSE reads an Anthropic Messages-API `text/event-stream`
// body and translates content_block_start/content_block_delta/
// content_block_stop/message_stop events into text_delta/tool_use_block/
// stop events.
func streamAnthropicSSE(ctx context.Context, body io.Reader, onEvent func(orchestrator.LLMStreamEvent) error) error {
	type toolBlock struct {
		id   string
		name string
		args strings.Builder
	}
	blocks := make(map[int]*toolBlock)

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

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				blocks[ev.Index] = &toolBlock{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if err := onEvent(orchestrator.LLMStreamEvent{
					Type:      orchestrator.LLMEventTextDelta,
					TextDelta: ev.Delta.Text,
				}); err != nil {
					return err
				}
			case "input_json_delta":
				if b, ok := blocks[ev.Index]; ok {
					b.args.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if b, ok := blocks[ev.Index]; ok {
				var input map[string]interface{}
				if b.args.Len() > 0 {
					_ = json.Unmarshal([]byte(b.args.String()), &input)
				}
				if err := onEvent(orchestrator.LLMStreamEvent{
					Type:      orchestrator.LLMEventToolUse,
					ToolUseID: b.id,
					ToolName:  b.name,
					ToolInput: input,
				}); err != nil {
					return err
				}
				delete(blocks, ev.Index)
			}
		case "message_stop":
			return onEvent(orchestrator.LLMStreamEvent{Type: orchestrator.LLMEventStop})
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return onEvent(orchestrator.LLMStreamEvent{Type: orchestrator.LLMEventStop})
}
