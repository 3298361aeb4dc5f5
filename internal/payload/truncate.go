package payload

import (
	"encoding/json"
	"fmt"
)

// TruncateResult is the outcome of bounding an extracted content value to
// maxBytes, per SPEC_FULL.md §4.D's size-bounding rule.
type TruncateResult struct {
	Content   json.RawMessage
	Truncated bool
}

// Truncate encodes content to JSON; if the encoding exceeds maxBytes, it
// is replaced by the UTF-8-decoded prefix of that encoding (as a JSON
// string) and Truncated is set. A nil content passes through untouched
// and is never flagged truncated. Encoding failures fall back to a lossy
// %v stringification before the same length check.
func Truncate(content any, maxBytes int) TruncateResult {
	if content == nil {
		return TruncateResult{Content: json.RawMessage("null")}
	}

	encoded, err := json.Marshal(content)
	if err != nil {
		encoded, _ = json.Marshal(fmt.Sprintf("%v", content))
	}

	if len(encoded) <= maxBytes {
		return TruncateResult{Content: encoded}
	}

	prefix := truncateValidUTF8(encoded, maxBytes)
	replacement, _ := json.Marshal(prefix)
	return TruncateResult{Content: replacement, Truncated: true}
}

// truncateValidUTF8 cuts b to at most n bytes, backing off until the cut
// point does not split a multi-byte UTF-8 sequence, then decodes lossily.
func truncateValidUTF8(b []byte, n int) string {
	if n < 0 {
		n = 0
	}
	if n > len(b) {
		n = len(b)
	}
	cut := n
	for cut > 0 && isUTF8Continuation(b[cut]) {
		cut--
	}
	return string(b[:cut])
}

// isUTF8Continuation reports whether byte c is a UTF-8 continuation byte
// (10xxxxxx), which must never start a truncated string.
func isUTF8Continuation(c byte) bool {
	return c&0xC0 == 0x80
}
