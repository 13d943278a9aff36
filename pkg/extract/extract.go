// Package extract pulls structured JSON out of free-form model output.
//
// Models asked for JSON often wrap it in prose or markdown fences. FirstJSON scans for the
// first balanced object or array that is also valid JSON and returns it verbatim; Decode
// does the same for objects and unmarshals the result.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSON is returned when the text contains no balanced, valid JSON value.
var ErrNoJSON = errors.New("extract: no JSON value found")

// FirstJSON returns the first balanced JSON object or array in text.
func FirstJSON(text string) (string, error) {
	return first(text, "{[")
}

// FirstObject returns the first balanced JSON object in text.
func FirstObject(text string) (string, error) {
	return first(text, "{")
}

// Decode finds the first JSON object in text and unmarshals it into v.
//
// Errors wrap ErrNoJSON when nothing was found; a found object that does not fit v
// yields the json error.
func Decode(text string, v any) error {
	raw, err := FirstObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("extract: decode: %w", err)
	}
	return nil
}

func first(text string, openers string) (string, error) {
	// closes caches the closing index (or -1) of every opener an earlier scan passed
	// outside a string literal. From such a position a fresh scan would tokenize the rest
	// of the text identically, so each bracket is matched once and unclosed input stays
	// linear.
	closes := make(map[int]int)
	for start := 0; start < len(text); start++ {
		if !isOpener(text[start], openers) {
			continue
		}
		end, ok := closes[start]
		if !ok {
			end = matchClose(text, start, closes)
		}
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrNoJSON
}

func isOpener(c byte, openers string) bool {
	for i := 0; i < len(openers); i++ {
		if openers[i] == c {
			return true
		}
	}
	return false
}

type bracket struct {
	closer byte
	at     int
}

// matchClose returns the index of the bracket closing the one at start, or -1, honouring
// JSON string literals and escapes. Every bracket it meets outside a string is recorded in
// closes.
func matchClose(text string, start int, closes map[int]int) int {
	stack := make([]bracket, 0, 8)
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, bracket{closer: '}', at: i})
			closes[i] = -1
		case '[':
			stack = append(stack, bracket{closer: ']', at: i})
			closes[i] = -1
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].closer != c {
				return -1
			}
			closes[stack[len(stack)-1].at] = i
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}
