package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"github.com/rotisserie/eris"
)

// errNoArray marks an object export with nothing to stream.
var errNoArray = errors.New("json: object has no array member")

// JSONItems decodes the elements of a JSON array one at a time. Exports
// wrapped in an object ({"meta": {...}, "jobs": [...]}) stream their first
// array-valued member; other members are skipped. Iteration stops after the
// first error, which is yielded with a zero T. Empty input yields nothing.
func JSONItems[T any](ctx context.Context, r io.Reader) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		dec := json.NewDecoder(r)

		found, err := openArray(dec)
		if err != nil || !found {
			if err != nil {
				yield(zero, err)
			}
			return
		}

		for dec.More() {
			if err := ctx.Err(); err != nil {
				yield(zero, eris.Wrap(err, "json: stopped"))
				return
			}
			var v T
			if err := dec.Decode(&v); err != nil {
				yield(zero, eris.Wrap(err, "json: decode element"))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// openArray consumes tokens up to and including the '[' of the array to
// stream. It reports false on empty input.
func openArray(dec *json.Decoder) (bool, error) {
	tok, err := dec.Token()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "json: read start")
	}
	switch tok {
	case json.Delim('['):
		return true, nil
	case json.Delim('{'):
	default:
		return false, eris.Errorf("json: want array or object, got %v", tok)
	}

	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return false, eris.Wrap(err, "json: read member name")
		}
		tok, err := dec.Token()
		if err != nil {
			return false, eris.Wrap(err, "json: read member value")
		}
		switch tok {
		case json.Delim('['):
			return true, nil
		case json.Delim('{'):
			if err := skipContainer(dec); err != nil {
				return false, err
			}
		}
	}
	return false, eris.Wrap(errNoArray, "json")
}

// skipContainer consumes the rest of a container whose opening delimiter
// was just read.
func skipContainer(dec *json.Decoder) error {
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "json: skip member")
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
	return nil
}
