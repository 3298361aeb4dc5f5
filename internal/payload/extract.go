package payload

import "fmt"

// field returns body[key] and whether key was present with a non-nil
// value. Absence, a JSON null, or a non-object body all report false.
func field(body map[string]any, key string) (any, bool) {
	if body == nil {
		return nil, false
	}
	v, ok := body[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ExtractPrompt returns the extracted prompt value for family, or nil if
// none of the family's candidate fields are present. Mirrors
// SPEC_FULL.md §4.D's per-family field list exactly.
func ExtractPrompt(family Family, body map[string]any) any {
	switch family {
	case FamilyChat:
		if v, ok := field(body, "messages"); ok {
			return v
		}
		return nil
	case FamilyResponse:
		if v, ok := field(body, "input"); ok {
			return v
		}
		if v, ok := field(body, "messages"); ok {
			return v
		}
		return nil
	case FamilyCompletion:
		if v, ok := field(body, "prompt"); ok {
			return v
		}
		return nil
	case FamilyEmbedding:
		if v, ok := field(body, "input"); ok {
			return v
		}
		return nil
	case FamilyImage:
		if v, ok := field(body, "prompt"); ok {
			return v
		}
		return nil
	default: // FamilyUnknown
		for _, key := range []string{"messages", "input", "prompt"} {
			if v, ok := field(body, key); ok {
				return v
			}
		}
		return nil
	}
}

// ResponseExtraction is the non-tool-call-interpreting result of parsing
// an upstream response body per SPEC_FULL.md §4.D. ToolCalls and Refusal
// are carried as opaque values so the caller can marshal them verbatim
// without this package ever inspecting tool-call semantics.
type ResponseExtraction struct {
	Content   any
	ToolCalls any // present only for the chat family, passed through verbatim
	Refusal   any // present only for the chat family, passed through verbatim
	Yielded   bool
}

// ExtractResponse parses the given family's non-streaming response shape
// out of body. Yielded is false when nothing matched (the caller then
// omits the output event entirely, per spec.md §4.E).
func ExtractResponse(family Family, body map[string]any) ResponseExtraction {
	switch family {
	case FamilyChat:
		return extractChatResponse(body)
	case FamilyCompletion:
		return extractCompletionResponse(body)
	case FamilyEmbedding:
		return extractEmbeddingResponse(body)
	case FamilyImage:
		return extractImageResponse(body)
	default:
		return extractGenericResponse(body)
	}
}

func firstChoice(body map[string]any) (map[string]any, bool) {
	choices, ok := field(body, "choices")
	if !ok {
		return nil, false
	}
	arr, ok := choices.([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	m, ok := arr[0].(map[string]any)
	return m, ok
}

func extractChatResponse(body map[string]any) ResponseExtraction {
	choice, ok := firstChoice(body)
	if !ok {
		return ResponseExtraction{}
	}
	msg, ok := field(choice, "message")
	if !ok {
		return ResponseExtraction{}
	}
	msgMap, ok := msg.(map[string]any)
	if !ok {
		return ResponseExtraction{}
	}

	out := ResponseExtraction{Yielded: true}
	out.Content, _ = field(msgMap, "content")
	if v, ok := field(msgMap, "tool_calls"); ok && !isEmptyValue(v) {
		out.ToolCalls = v
	}
	if v, ok := field(msgMap, "refusal"); ok && !isEmptyValue(v) {
		out.Refusal = v
	}
	return out
}

// isEmptyValue reports whether v is an empty array or empty string, which
// per spec.md §4.D must be treated the same as an absent/null field: the
// tool_calls/refusal keys are included only when non-empty.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	default:
		return false
	}
}

func extractCompletionResponse(body map[string]any) ResponseExtraction {
	choice, ok := firstChoice(body)
	if !ok {
		return ResponseExtraction{}
	}
	text, ok := field(choice, "text")
	if !ok {
		return ResponseExtraction{}
	}
	return ResponseExtraction{Content: text, Yielded: true}
}

func extractEmbeddingResponse(body map[string]any) ResponseExtraction {
	data, ok := field(body, "data")
	if !ok {
		return ResponseExtraction{}
	}
	arr, ok := data.([]any)
	if !ok || len(arr) == 0 {
		return ResponseExtraction{}
	}
	first, ok := arr[0].(map[string]any)
	if !ok {
		return ResponseExtraction{}
	}
	embedding, ok := field(first, "embedding")
	if !ok {
		return ResponseExtraction{}
	}
	vec, ok := embedding.([]any)
	if !ok {
		return ResponseExtraction{}
	}
	return ResponseExtraction{
		Content: fmt.Sprintf("embedding with %d dimensions", len(vec)),
		Yielded: true,
	}
}

func extractImageResponse(body map[string]any) ResponseExtraction {
	data, ok := field(body, "data")
	if !ok {
		return ResponseExtraction{}
	}
	arr, ok := data.([]any)
	if !ok || len(arr) == 0 {
		return ResponseExtraction{}
	}
	first, ok := arr[0].(map[string]any)
	if !ok {
		return ResponseExtraction{}
	}

	result := map[string]any{}
	if url, ok := field(first, "url"); ok {
		result["url"] = url
	}
	if rp, ok := field(first, "revised_prompt"); ok {
		result["revised_prompt"] = rp
	}
	if len(result) == 0 {
		return ResponseExtraction{}
	}
	return ResponseExtraction{Content: result, Yielded: true}
}

func extractGenericResponse(body map[string]any) ResponseExtraction {
	for _, key := range []string{"content", "text", "output", "result"} {
		if v, ok := field(body, key); ok {
			return ResponseExtraction{Content: v, Yielded: true}
		}
	}
	return ResponseExtraction{}
}
