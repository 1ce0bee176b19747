// Package jsoncodec is the single JSON entry point for replyflow. Event
// decoding, dead-letter documents, the responder client and the health
// endpoint all go through it so the encoder configuration stays uniform.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// defaultConfig mirrors encoding/json semantics (escaped HTML, sorted map
// keys) so dead-letter documents are stable across runs.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
