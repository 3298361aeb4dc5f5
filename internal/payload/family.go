// Package payload implements the Payload Interpreter: a collection of
// pure functions over a request path and a parsed JSON body that classify
// the API family, extract prompts and response content, reconstruct
// streaming chat deltas, and bound extracted content to a size limit.
//
// None of these functions interpret tool-call semantics (no blocking, no
// argument repair) — they only navigate and pass through JSON shapes.
package payload

import "strings"

// Family is the API family a request path is classified into.
type Family string

const (
	FamilyChat       Family = "chat"
	FamilyCompletion Family = "completion"
	FamilyEmbedding  Family = "embedding"
	FamilyImage      Family = "image"
	FamilyResponse   Family = "response"
	FamilyUnknown    Family = "unknown"
)

// ClassifyFamily inspects path with a case-insensitive substring match,
// first hit wins, in the fixed order from SPEC_FULL.md §4.D. Note
// "chat/completions" must be checked before the bare "completions"
// substring it contains.
func ClassifyFamily(path string) Family {
	p := strings.ToLower(path)

	switch {
	case strings.Contains(p, "chat/completions"):
		return FamilyChat
	case strings.Contains(p, "completions"):
		return FamilyCompletion
	case strings.Contains(p, "embeddings"):
		return FamilyEmbedding
	case strings.Contains(p, "images/generations"), strings.Contains(p, "images"):
		return FamilyImage
	case strings.Contains(p, "responses"):
		return FamilyResponse
	default:
		return FamilyUnknown
	}
}
