package trigger

import "strings"

// ContextKey identifies one record-trigger source instance, namespaced by
// kind: "booking:<id>", "live_location:<id>", or the manual global toggle.
type ContextKey string

// ManualGlobal is the context key for the user's manual record toggle.
const ManualGlobal ContextKey = "manual:global"

func BookingKey(id string) ContextKey {
	return ContextKey("booking:" + id)
}

func LiveLocationKey(conversationID string) ContextKey {
	return ContextKey("live_location:" + conversationID)
}

// Kind returns the namespace portion of the key ("booking", "live_location",
// "manual"), or "unknown" for malformed keys.
func (k ContextKey) Kind() string {
	idx := strings.IndexByte(string(k), ':')
	if idx <= 0 {
		return "unknown"
	}
	return string(k[:idx])
}

// ID returns the instance portion of the key.
func (k ContextKey) ID() string {
	idx := strings.IndexByte(string(k), ':')
	if idx < 0 || idx+1 >= len(k) {
		return ""
	}
	return string(k[idx+1:])
}
