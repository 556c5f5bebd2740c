package chat

// Reason tags every invocation of the chat callback.
type Reason int

const (
	// ReasonDone marks the terminal callback of a chat request.
	ReasonDone Reason = iota
	// ReasonPartial carries one streamed text increment.
	ReasonPartial
	// ReasonFatalError carries a non-recoverable error message.
	ReasonFatalError
	// ReasonLogNotice carries a notice-level log line.
	ReasonLogNotice
	// ReasonLogDebug carries a debug-level log line.
	ReasonLogDebug
	// ReasonCancelled marks a request cancelled by the user.
	ReasonCancelled
	// ReasonRequestCost carries the formatted cost of the last request.
	ReasonRequestCost
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonDone:
		return "done"
	case ReasonPartial:
		return "partial"
	case ReasonFatalError:
		return "fatal-error"
	case ReasonLogNotice:
		return "log-notice"
	case ReasonLogDebug:
		return "log-debug"
	case ReasonCancelled:
		return "cancelled"
	case ReasonRequestCost:
		return "request-cost"
	}
	return "unknown"
}

// Callback receives streamed output. Returning false cancels the request
// cooperatively; the partial response accumulated so far is kept in
// history.
type Callback func(text string, reason Reason, thinking bool) bool

// ToolInvokeCallback is consulted before each tool invocation. Returning
// false declines the call and feeds a synthetic error result to the model.
type ToolInvokeCallback func(toolName string) bool

// Options control a single Chat call.
type Options uint8

const (
	// OptionDefault enables everything.
	OptionDefault Options = 0
	// OptionNoTools omits the tool catalog from the request.
	OptionNoTools Options = 1 << 0
	// OptionNoHistory sends only the new user message, bypassing the store.
	OptionNoHistory Options = 1 << 1
)

// Has reports whether all bits of flag are set.
func (o Options) Has(flag Options) bool {
	return o&flag == flag
}
