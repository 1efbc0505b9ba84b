package cmd

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/linanwx/clawlink/protocol"
)

// parseParams builds call parameters from key=value arguments. Keys are sjson
// paths, so "event.title=Standup" nests. Values that parse as JSON keep their
// type; anything else is a string.
func parseParams(args []string) (*protocol.Object, error) {
	doc := []byte("{}")
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}

		var err error
		if isJSONValue(value) {
			doc, err = sjson.SetRawBytes(doc, key, []byte(value))
		} else {
			doc, err = sjson.SetBytes(doc, key, value)
		}
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
	}
	return protocol.ParseObject(doc)
}

// isJSONValue accepts numbers, booleans, null, quoted strings, objects and
// arrays.
func isJSONValue(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || !gjson.Valid(s) {
		return false
	}
	switch gjson.Parse(s).Type {
	case gjson.Number, gjson.True, gjson.False, gjson.Null, gjson.JSON:
		return true
	case gjson.String:
		return strings.HasPrefix(s, `"`)
	}
	return false
}
