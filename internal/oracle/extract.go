package oracle

import "strings"

// ExtractJSON recovers a JSON payload from free-form model output. Responses
// routinely arrive wrapped in fenced code blocks or surrounded by prose; the
// contract is: take the substring from the first opening bracket ('{' or
// '[') to the last closing bracket of the same kind. Both object and array
// payloads go through this one path. Returns ok=false when no bracket pair
// of the leading kind exists.
func ExtractJSON(s string) (string, bool) {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start, closer := objStart, byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start, closer = arrStart, ']'
	}
	if start == -1 {
		return "", false
	}

	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}
