package tool

import (
	"encoding/json"
	"strings"
)

// Complete reports whether a streamed argument fragment is a syntactically
// complete JSON value. It is a narrow bracket/string-state scanner, not a
// parser: the orchestrator calls it on every delta to detect the earliest
// dispatchable moment without re-parsing the whole buffer's semantics.
//
// The scanner understands nesting of objects and arrays, string literals
// with escapes, and bare top-level scalars. It never validates structure
// beyond balance; a balanced-but-bogus payload is left for json.Unmarshal
// to reject at dispatch.
func Complete(fragment string) bool {
	s := strings.TrimSpace(fragment)
	if s == "" {
		return false
	}

	depth := 0
	inString := false
	escaped := false
	sawToken := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			sawToken = true
		case '{', '[':
			depth++
			sawToken = true
		case '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		default:
			if ch > ' ' {
				sawToken = true
			}
		}
	}

	if inString || depth != 0 || !sawToken {
		return false
	}

	// Bare scalars ("true", "42") have no structural close to detect, so
	// balance alone cannot confirm them; require full validity there.
	if s[0] != '{' && s[0] != '[' && s[0] != '"' {
		return json.Valid([]byte(s))
	}
	return true
}

// Mend attempts to repair a malformed JSON payload: it strips trailing
// commas, terminates an open string, and appends the missing closers the
// scanner's bracket stack implies. The repaired text is returned only when
// it validates; otherwise ok is false and the payload should be skipped
// with a warning rather than dispatched.
func Mend(fragment string) (string, bool) {
	s := strings.TrimSpace(fragment)
	if s == "" {
		return "", false
	}
	if json.Valid([]byte(s)) {
		return s, true
	}

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	mended := s
	if escaped {
		// A dangling backslash cannot be closed meaningfully.
		mended += "\\"
	}
	if inString {
		mended += `"`
	}
	mended = strings.TrimRight(mended, " \t\n\r")
	mended = strings.TrimSuffix(mended, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		mended += string(stack[i])
	}

	if json.Valid([]byte(mended)) {
		return mended, true
	}
	return "", false
}
