package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Peer connectivity
	CodePeerConnectionFailed: "Failed to connect to network peer",
	CodePeerProbeTimeout:     "Peer liveness probe timed out",
	CodePoolExhausted:        "No usable peer connection for this network",
	CodeRPCError:             "Peer RPC call failed",

	// Block queries
	CodeInvalidBlockID:   "Invalid block identifier",
	CodeBlockNotFound:    "Block not found",
	CodeRangeResolution:  "Failed to resolve block range",
	CodeBatchFetchFailed: "Batched block fetch failed",
	CodeBlockTransform:   "Failed to transform raw block",

	// Transactions
	CodeInvalidTxID:        "Invalid transaction identifier",
	CodeTransactionFailed:  "Transaction fetch failed",
	CodeReceiptFetchFailed: "Transaction receipt fetch failed",

	// Fee estimation
	CodeFeeHistoryFailed: "Fee history fetch failed",
	CodeFeeWindowEmpty:   "Fee history window is empty",

	// External data API
	CodeUpstreamData:      "External data API returned malformed data",
	CodeUpstreamRateLimit: "External data API rate limit exceeded",
	CodeDateLookupFailed:  "Block-by-date lookup failed",
	CodeBalanceLookup:     "Balance lookup failed",

	// Streaming
	CodeStreamOpenFailed:  "Failed to open transaction stream",
	CodeStreamInterrupted: "Transaction stream interrupted mid-flight",
	CodeSinkWriteFailed:   "Failed to write to output sink",

	// Wallet
	CodeWalletNotFound: "Wallet not found",

	// Circuit breaker
	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
