package serialmux

import "encoding/json"

// PayloadKind returns the "type" field of a JSON line, or "" when the line
// is not a JSON object or carries no string type.
func PayloadKind(line string) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &head); err != nil {
		return ""
	}
	return head.Type
}
