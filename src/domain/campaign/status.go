package campaign

import "strings"

// MessageStatus is the per-recipient delivery state
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// rank orders the forward lattice pending < sent < delivered < read.
// failed sits outside the lattice and has no rank.
func (s MessageStatus) rank() int {
	switch s {
	case MessagePending:
		return 0
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return -1
}

// Valid reports whether s is one of the known message statuses
func (s MessageStatus) Valid() bool {
	return s.rank() >= 0 || s == MessageFailed
}

// CanReconcile reports whether an event reporting `to` may be applied to a
// message currently in `from`. Only strictly later lattice positions apply,
// and a failure report only lands while the message sits at sent.
func CanReconcile(from, to MessageStatus) bool {
	if from == MessageFailed || from == MessagePending {
		return false
	}
	if to == MessageFailed {
		return from == MessageSent
	}
	if to.rank() < 0 {
		return false
	}
	return to.rank() > from.rank()
}

// CanDispatch reports whether the dispatcher may attempt a send from this status
func CanDispatch(s MessageStatus) bool {
	return s == MessagePending || s == MessageFailed
}

// NormalizeProviderStatus maps the provider's status vocabulary onto the
// canonical statuses. The second return is false for unknown values.
func NormalizeProviderStatus(reported string) (MessageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(reported)) {
	case "sent", "server_ack", "1", "2":
		return MessageSent, true
	case "delivered", "delivery_ack", "3":
		return MessageDelivered, true
	case "read", "played", "4", "5":
		return MessageRead, true
	case "failed", "error", "0":
		return MessageFailed, true
	}
	return "", false
}
