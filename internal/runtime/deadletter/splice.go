package deadletter

import (
	"errors"

	"github.com/drblury/replyflow/internal/runtime/jsoncodec"
)

var errNotObject = errors.New("deadletter: not a JSON object")

// member is one "key": value pair of a JSON object, located by byte offsets
// into the object text.
type member struct {
	key        string
	valueStart int
	valueEnd   int
}

// field is a member to write into an object. value must be encoded JSON.
type field struct {
	key   string
	value []byte
}

// isObject reports whether data is a valid JSON document whose top-level
// value is an object.
func isObject(data []byte) bool {
	i := skipSpace(data, 0)
	return i < len(data) && data[i] == '{' && jsoncodec.Valid(data)
}

// memberValue returns the raw value of the last member named key. Duplicate
// keys resolve to the last one, as a decoder would.
func memberValue(obj []byte, key string) ([]byte, bool) {
	members, _, err := scanObject(obj)
	if err != nil {
		return nil, false
	}
	var (
		value []byte
		found bool
	)
	for _, m := range members {
		if m.key == key {
			value, found = obj[m.valueStart:m.valueEnd], true
		}
	}
	return value, found
}

// setMembers returns obj with the values of fields written in. Members that
// already exist keep their position and only their value bytes change;
// missing ones are appended after the last member. Every byte outside the
// replaced values is copied unchanged.
func setMembers(obj []byte, fields []field) ([]byte, error) {
	members, closing, err := scanObject(obj)
	if err != nil {
		return nil, err
	}

	size := len(obj)
	for _, f := range fields {
		size += len(f.key) + len(f.value) + 4
	}
	out := make([]byte, 0, size)

	seen := make(map[string]bool, len(fields))
	prev := 0
	for _, m := range members {
		value, ok := lookup(fields, m.key)
		if !ok {
			continue
		}
		out = append(out, obj[prev:m.valueStart]...)
		out = append(out, value...)
		prev = m.valueEnd
		seen[m.key] = true
	}

	insertAt := closing
	if len(members) > 0 {
		insertAt = members[len(members)-1].valueEnd
	}
	out = append(out, obj[prev:insertAt]...)

	needComma := len(members) > 0
	for _, f := range fields {
		if seen[f.key] {
			continue
		}
		key, err := jsoncodec.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		if needComma {
			out = append(out, ',')
		}
		out = append(out, key...)
		out = append(out, ':')
		out = append(out, f.value...)
		needComma = true
	}
	return append(out, obj[insertAt:]...), nil
}

func lookup(fields []field, key string) ([]byte, bool) {
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// scanObject lists the members of the object in obj and the offset of its
// closing brace. obj must already be known to be valid JSON.
func scanObject(obj []byte) ([]member, int, error) {
	i := skipSpace(obj, 0)
	if i >= len(obj) || obj[i] != '{' {
		return nil, 0, errNotObject
	}
	i = skipSpace(obj, i+1)
	if i < len(obj) && obj[i] == '}' {
		return nil, i, nil
	}

	var members []member
	for i < len(obj) {
		keyEnd, err := skipString(obj, i)
		if err != nil {
			return nil, 0, err
		}
		var key string
		if err := jsoncodec.Unmarshal(obj[i:keyEnd], &key); err != nil {
			return nil, 0, err
		}

		i = skipSpace(obj, keyEnd)
		if i >= len(obj) || obj[i] != ':' {
			return nil, 0, errNotObject
		}
		start := skipSpace(obj, i+1)
		end, err := skipValue(obj, start)
		if err != nil {
			return nil, 0, err
		}
		members = append(members, member{key: key, valueStart: start, valueEnd: end})

		i = skipSpace(obj, end)
		if i >= len(obj) {
			break
		}
		switch obj[i] {
		case ',':
			i = skipSpace(obj, i+1)
		case '}':
			return members, i, nil
		default:
			return nil, 0, errNotObject
		}
	}
	return nil, 0, errNotObject
}

func skipSpace(data []byte, i int) int {
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// skipString returns the offset just past the string literal starting at i.
func skipString(data []byte, i int) (int, error) {
	if i >= len(data) || data[i] != '"' {
		return 0, errNotObject
	}
	for j := i + 1; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '"':
			return j + 1, nil
		}
	}
	return 0, errNotObject
}

// skipValue returns the offset just past the value starting at i.
func skipValue(data []byte, i int) (int, error) {
	if i >= len(data) {
		return 0, errNotObject
	}
	switch data[i] {
	case '"':
		return skipString(data, i)
	case '{', '[':
		depth := 0
		for j := i; j < len(data); j++ {
			switch data[j] {
			case '"':
				end, err := skipString(data, j)
				if err != nil {
					return 0, err
				}
				j = end - 1
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return j + 1, nil
				}
			}
		}
		return 0, errNotObject
	default:
		j := i
		for j < len(data) {
			switch data[j] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return j, nil
			}
			j++
		}
		return j, nil
	}
}
