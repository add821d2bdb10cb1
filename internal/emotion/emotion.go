// Package emotion pulls bracketed emotion tags such as "[happy]" out of model output.
package emotion

import "strings"

// Extract removes every bracketed pair from text and returns the remaining text
// together with the last tag removed, brackets included. Scanning stops at the
// first position where either bracket is missing or the first ']' precedes the
// first '['; anything left at that point stays in the text untouched.
func Extract(text string) (clean, tag string) {
	for {
		start := strings.IndexByte(text, '[')
		end := strings.IndexByte(text, ']')
		if start < 0 || end < 0 || end < start {
			return text, tag
		}
		tag = text[start : end+1]
		text = text[:start] + text[end+1:]
	}
}
