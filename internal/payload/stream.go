package payload

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/plens/plens/internal/logwriter"
)

// StreamReconstruction is the result of folding a chat stream's SSE
// deltas into a single logical response, per SPEC_FULL.md §4.D.
type StreamReconstruction struct {
	Content   string
	ToolCalls []logwriter.ToolCall
	Yielded   bool // false when neither content nor tool_calls accumulated anything
}

// ReconstructChatStream interprets raw as the concatenated raw bytes of a
// chat-completions SSE stream (UTF-8, lossy-decoded) and folds over its
// "data: " lines to rebuild a coherent content string and tool-call set.
//
// This is the direct analog of the teacher's buffered_stream.go
// reconstructOpenAI fold-over-indexed-deltas algorithm, generalized to
// this spec's delta field names.
func ReconstructChatStream(raw []byte) StreamReconstruction {
	text := string(raw) // Go string conversion of []byte already replaces
	// invalid UTF-8 sequences with U+FFFD when ranged over as runes; for a
	// verbatim lossy decode we normalize through strings.ToValidUTF8.
	text = strings.ToValidUTF8(text, "�")

	var content strings.Builder
	byIndex := map[int]*logwriter.ToolCall{}
	var order []int

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		choices, ok := event["choices"].([]any)
		if !ok || len(choices) == 0 {
			continue
		}
		choice, ok := choices[0].(map[string]any)
		if !ok {
			continue
		}
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			continue
		}

		if c, ok := delta["content"].(string); ok && c != "" {
			content.WriteString(c)
		}

		if calls, ok := delta["tool_calls"].([]any); ok {
			for _, rawCall := range calls {
				callMap, ok := rawCall.(map[string]any)
				if !ok {
					continue
				}
				idxFloat, ok := callMap["index"].(float64)
				if !ok {
					continue
				}
				idx := int(idxFloat)

				tc, seen := byIndex[idx]
				if !seen {
					tc = &logwriter.ToolCall{Index: idx}
					byIndex[idx] = tc
					order = append(order, idx)
				}

				if id, ok := callMap["id"].(string); ok && id != "" {
					tc.ID = id
				}
				if typ, ok := callMap["type"].(string); ok && typ != "" {
					tc.Type = typ
				}
				if fn, ok := callMap["function"].(map[string]any); ok {
					if name, ok := fn["name"].(string); ok && name != "" {
						tc.Function.Name = name
					}
					if args, ok := fn["arguments"].(string); ok && args != "" {
						tc.Function.Arguments += args
					}
				}
			}
		}
	}

	sort.Ints(order)
	var toolCalls []logwriter.ToolCall
	for _, idx := range order {
		toolCalls = append(toolCalls, *byIndex[idx])
	}

	return StreamReconstruction{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Yielded:   content.Len() > 0 || len(toolCalls) > 0,
	}
}
