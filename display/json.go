package display

import "encoding/json"

// MarshalJSON pretty-prints v for humans and tests alike
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Indent pretty-prints a JSON document, returning it unchanged when it does
// not parse.
func Indent(s string) string {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	data, err := MarshalJSON(v)
	if err != nil {
		return s
	}
	return string(data)
}
