package markov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalJSON encodes the table as an ordered list of
// [state, {token: [weight, syllables]}] pairs.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, key := range t.order {
		tr := t.states[key]
		if i > 0 {
			buf.WriteByte(',')
		}
		state, err := json.Marshal(tr.state)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('[')
		buf.Write(state)
		buf.WriteString(",{")
		for j, next := range tr.list {
			if j > 0 {
				buf.WriteByte(',')
			}
			token, err := json.Marshal(next.Token)
			if err != nil {
				return nil, err
			}
			weight, err := json.Marshal(next.Weight)
			if err != nil {
				return nil, fmt.Errorf("%w: weight of %s after %v: %v", ErrFormat, token, tr.state, err)
			}
			buf.Write(token)
			fmt.Fprintf(&buf, ":[%s,%d]", weight, next.Syllables)
		}
		buf.WriteString("}]")
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any form accepted by ParseTable into t.
func (t *Table) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTable(data)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// ParseTable decodes a persisted table. It accepts the list form written by
// MarshalJSON, a mapping form whose keys are either JSON arrays of tokens or
// space-joined tokens, or a JSON string containing either of those. The state
// size is inferred from the first state. Anything else, an empty table, or
// states of differing lengths fail with ErrFormat.
func ParseTable(data []byte) (*Table, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrFormat)
	}

	var t *Table
	var err error
	switch data[0] {
	case '"':
		var inner string
		if err = json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if strings.HasPrefix(strings.TrimSpace(inner), `"`) {
			return nil, fmt.Errorf("%w: table is doubly encoded", ErrFormat)
		}
		return ParseTable([]byte(inner))
	case '[':
		t, err = parseList(data)
	case '{':
		t, err = parseMap(data)
	default:
		return nil, fmt.Errorf("%w: table should be a list or a mapping", ErrFormat)
	}
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("%w: table has no transitions", ErrFormat)
	}
	t.finalize()
	return t, nil
}

func parseList(data []byte) (*Table, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrFormat)
	}

	var t *Table
	for i, item := range items {
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("%w: entry %d is not a [state, options] pair", ErrFormat, i)
		}
		var state []string
		if err := json.Unmarshal(pair[0], &state); err != nil {
			return nil, fmt.Errorf("%w: entry %d state: %v", ErrFormat, i, err)
		}
		var err error
		if t, err = addState(t, state, pair[1]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseMap(data []byte) (*Table, error) {
	var t *Table
	err := eachMember(data, func(key string, value json.RawMessage) error {
		state, err := parseStateKey(key)
		if err != nil {
			return err
		}
		t, err = addState(t, state, value)
		return err
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: empty table", ErrFormat)
	}
	return t, nil
}

func parseStateKey(key string) ([]string, error) {
	if strings.HasPrefix(key, "[") {
		var state []string
		if err := json.Unmarshal([]byte(key), &state); err != nil {
			return nil, fmt.Errorf("%w: state key %q: %v", ErrFormat, key, err)
		}
		return state, nil
	}
	return strings.Split(key, " "), nil
}

// addState decodes one options object and adds it to t, creating t from the
// first state's length when t is nil.
func addState(t *Table, state []string, options json.RawMessage) (*Table, error) {
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: empty state", ErrFormat)
	}
	if t == nil {
		t = newTable(len(state))
	} else if len(state) != t.stateSize {
		return nil, fmt.Errorf("%w: state %q has %d tokens, expected %d", ErrFormat, state, len(state), t.stateSize)
	}

	err := eachMember(options, func(token string, value json.RawMessage) error {
		var pair []float64
		if err := json.Unmarshal(value, &pair); err != nil || len(pair) != 2 {
			return fmt.Errorf("%w: options for %q: %q is not a [weight, syllables] pair", ErrFormat, state, token)
		}
		if pair[0] < 0 || pair[1] < 0 {
			return fmt.Errorf("%w: options for %q: negative values for %q", ErrFormat, state, token)
		}
		syllables := int(pair[1])
		if IsSentinel(token) {
			syllables = 0
		}
		t.add(state, token, pair[0], syllables)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// eachMember walks the members of a JSON object in document order.
func eachMember(data []byte, fn func(key string, value json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: expected an object", ErrFormat)
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err = dec.Decode(&value); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if err = fn(key, value); err != nil {
			return err
		}
	}
	return nil
}
