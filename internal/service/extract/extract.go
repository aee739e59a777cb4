// Package extract recovers structured records from free-form model output.
// Malformed input is expected, so extraction never fails: it degrades to a
// deterministic fallback record and says so in the result kind.
package extract

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/jsonc"
)

// Kind tells a well-formed result apart from a best-effort one.
type Kind int

const (
	Parsed Kind = iota
	Fallback
)

func (k Kind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "fallback"
}

const (
	// maxCandidates bounds how many balanced spans are decoded.
	maxCandidates = 16
	// maxOpenings bounds how many opening brackets are scanned for a close,
	// balanced or not, so unbalanced input stays linear in its length.
	maxOpenings = 64
	// maxScanBytes is the prefix of the text searched for spans.
	maxScanBytes = 64 << 10
)

// Result is either Parsed(Value) or Fallback(Value).
type Result[T any] struct {
	Kind  Kind
	Value T
}

// IsFallback reports whether Value came from the shape's fallback.
func (r Result[T]) IsFallback() bool {
	return r.Kind == Fallback
}

// Shape describes the record expected in the text.
type Shape[T any] struct {
	Name string
	// Decode converts normalised JSON into T. Defaults to json.Unmarshal.
	Decode func(data []byte) (T, error)
	// Validate rejects records that parsed but are unusable.
	Validate func(T) error
	// Fallback builds the default record from the original text.
	Fallback func(text string) T
}

var errNoSpan = errors.New("no balanced json span")

// Extract finds the first balanced {...} or [...] span in text that decodes
// into the shape and passes validation. Anything else, including a panic in
// a decoder, yields the fallback record.
func Extract[T any](text string, shape Shape[T]) (result Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			result = Result[T]{Kind: Fallback, Value: shape.Fallback(text)}
		}
	}()

	value, err := parse(text, shape)
	if err != nil {
		return Result[T]{Kind: Fallback, Value: shape.Fallback(text)}
	}
	return Result[T]{Kind: Parsed, Value: value}
}

func parse[T any](text string, shape Shape[T]) (T, error) {
	var zero T
	lastErr := errNoSpan
	offset := 0

	if len(text) > maxScanBytes {
		text = text[:maxScanBytes]
	}
	sc := &scanner{text: text, budget: maxOpenings}

	for attempt := 0; attempt < maxCandidates; attempt++ {
		start, end, ok := sc.next(offset)
		if !ok {
			break
		}
		offset = start + 1

		value, err := decode(text[start:end], shape)
		if err != nil {
			lastErr = err
			continue
		}
		return value, nil
	}

	return zero, lastErr
}

func decode[T any](span string, shape Shape[T]) (T, error) {
	var value T
	data := jsonc.ToJSON([]byte(span))

	var err error
	if shape.Decode != nil {
		value, err = shape.Decode(data)
	} else {
		err = json.Unmarshal(data, &value)
	}
	if err != nil {
		return value, err
	}

	if shape.Validate != nil {
		if err := shape.Validate(value); err != nil {
			return value, err
		}
	}
	return value, nil
}

// FindSpan returns the bounds of the first balanced JSON object or array
// starting at or after offset. Brackets inside string literals are ignored.
// At most maxOpenings opening brackets are tried.
func FindSpan(text string, offset int) (start, end int, ok bool) {
	sc := &scanner{text: text, budget: maxOpenings}
	return sc.next(offset)
}

// scanner shares one opening-bracket budget across successive searches.
type scanner struct {
	text   string
	budget int
}

func (s *scanner) next(offset int) (start, end int, ok bool) {
	for i := offset; i < len(s.text) && s.budget > 0; i++ {
		if s.text[i] != '{' && s.text[i] != '[' {
			continue
		}
		s.budget--
		if j, balanced := closeSpan(s.text, i); balanced {
			return i, j, true
		}
	}
	return 0, 0, false
}

func closeSpan(text string, start int) (int, bool) {
	stack := make([]byte, 0, 8)
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
