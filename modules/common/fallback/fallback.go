package fallback

import (
	"encoding/json"
	"strings"
)

// Field names the automation service has used for result references, in preference order.
var (
	ImageURLFields = []string{"imageUrl", "image_url", "generated_image_url", "url", "output", "data.url", "data.imageUrl"}
	VideoURLFields = []string{"videoUrl", "video_url", "url", "output", "data.url", "data.videoUrl"}
	AnalysisFields = []string{"analysis", "description", "data.analysis"}
	ErrorFields    = []string{"error", "error_message", "message"}
)

// SafeString returns a trimmed string or the provided fallback.
func SafeString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return fallback
}

// FirstString returns the first non-empty string among keys. A dotted key walks
// nested objects; an array value yields its first string element.
func FirstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := SafeString(firstOf(lookup(m, key)), ""); s != "" {
			return s
		}
	}
	return ""
}

// FirstStringJSON decodes body as a JSON object and applies FirstString.
// Non-object bodies yield "".
func FirstStringJSON(body []byte, keys ...string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		// some workflows answer with a one-element array
		var list []map[string]interface{}
		if err := json.Unmarshal(body, &list); err != nil || len(list) == 0 {
			return ""
		}
		m = list[0]
	}
	return FirstString(m, keys...)
}

func lookup(m map[string]interface{}, key string) interface{} {
	var cur interface{} = m
	for _, part := range strings.Split(key, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

func firstOf(v interface{}) interface{} {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}
