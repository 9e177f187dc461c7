package errs

// Category is the user-facing grouping of failures.
type Category string

const (
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategorySimulationFailure Category = "simulation_failure"
	CategoryConnectionIssue   Category = "connection_issue"
	CategoryCancelled         Category = "cancelled"
	CategoryUnknown           Category = "unknown"
)

// CategoryOf maps err to a Category. It depends on the Kind only.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindInsufficientBalance:
		return CategoryInsufficientFunds
	case KindSimulationFailed, KindTransaction:
		return CategorySimulationFailure
	case KindConnection:
		return CategoryConnectionIssue
	case KindUserRejected:
		return CategoryCancelled
	default:
		return CategoryUnknown
	}
}

// UserMessage renders a short human-readable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindInvalidPool:
		return "The pool address is invalid or the pool does not exist."
	case KindNoSuitableRange:
		return "No safe bin range could be found for this pool right now. A default range will be used."
	}
	switch CategoryOf(err) {
	case CategoryInsufficientFunds:
		return "Insufficient SOL balance to open this position."
	case CategorySimulationFailure:
		return "The transaction failed during simulation or on-chain execution."
	case CategoryConnectionIssue:
		return "Could not reach the Solana RPC endpoint. Please try again."
	case CategoryCancelled:
		return "The request was cancelled."
	default:
		return "An unexpected error occurred."
	}
}
