package chat

// ConversationID derives the deterministic thread identifier for an unordered
// pair of user ids: both participants resolve to the same conversation no
// matter who initiates.
func ConversationID(a, b string) string {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return "conv:" + lo + ":" + hi
}
