package preprocess

import (
	"bytes"
	"fmt"
	"strconv"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

//NewDefaultRegistry returns a registry preloaded with the builtin byte-level
//transforms
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	// registration of builtins cannot fail; names are unique literals
	_ = r.Register("trim_whitespace", trimWhitespace)
	_ = r.Register("lowercase", lowercase)
	_ = r.Register("strip_bom", stripBOM)
	_ = r.Register("truncate", truncate)
	return r
}

func trimWhitespace(payload []byte, _ map[string]string) ([]byte, error) {
	return bytes.TrimSpace(payload), nil
}

func lowercase(payload []byte, _ map[string]string) ([]byte, error) {
	return bytes.ToLower(payload), nil
}

func stripBOM(payload []byte, _ map[string]string) ([]byte, error) {
	return bytes.TrimPrefix(payload, utf8BOM), nil
}

func truncate(payload []byte, params map[string]string) ([]byte, error) {
	raw, ok := params["max_bytes"]
	if !ok {
		return nil, fmt.Errorf("missing required parameter max_bytes")
	}
	max, err := strconv.Atoi(raw)
	if err != nil || max < 0 {
		return nil, fmt.Errorf("invalid max_bytes %q", raw)
	}
	if len(payload) <= max {
		return payload, nil
	}
	return payload[:max], nil
}
