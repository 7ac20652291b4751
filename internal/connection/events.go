package connection

import "github.com/tidwall/gjson"

// eventKeys are the fields feeds commonly use to name a frame's type.
var eventKeys = []string{"type", "event", "e", "channel", "op", "action"}

// FrameEvent returns the event name carried by a JSON frame, or "" for
// non-JSON content or frames without a recognised type field.
func FrameEvent(content string) string {
	if !gjson.Valid(content) {
		return ""
	}
	results := gjson.GetMany(content, eventKeys...)
	for _, r := range results {
		if r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}
