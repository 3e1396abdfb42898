package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Chain-state error codes
const (
	// Peer connectivity
	CodePeerConnectionFailed Code = "PEER_CONNECTION_FAILED"
	CodePeerProbeTimeout     Code = "PEER_PROBE_TIMEOUT"
	CodePoolExhausted        Code = "POOL_EXHAUSTED"
	CodeRPCError             Code = "RPC_ERROR"

	// Block queries
	CodeInvalidBlockID   Code = "INVALID_BLOCK_ID"
	CodeBlockNotFound    Code = "BLOCK_NOT_FOUND"
	CodeRangeResolution  Code = "RANGE_RESOLUTION_FAILED"
	CodeBatchFetchFailed Code = "BATCH_FETCH_FAILED"
	CodeBlockTransform   Code = "BLOCK_TRANSFORM_FAILED"

	// Transactions
	CodeInvalidTxID        Code = "INVALID_TX_ID"
	CodeTransactionFailed  Code = "TRANSACTION_FETCH_FAILED"
	CodeReceiptFetchFailed Code = "RECEIPT_FETCH_FAILED"

	// Fee estimation
	CodeFeeHistoryFailed Code = "FEE_HISTORY_FAILED"
	CodeFeeWindowEmpty   Code = "FEE_WINDOW_EMPTY"

	// External data API
	CodeUpstreamData      Code = "UPSTREAM_DATA_ERROR"
	CodeUpstreamRateLimit Code = "UPSTREAM_RATE_LIMITED"
	CodeDateLookupFailed  Code = "DATE_LOOKUP_FAILED"
	CodeBalanceLookup     Code = "BALANCE_LOOKUP_FAILED"

	// Streaming
	CodeStreamOpenFailed  Code = "STREAM_OPEN_FAILED"
	CodeStreamInterrupted Code = "STREAM_INTERRUPTED"
	CodeSinkWriteFailed   Code = "SINK_WRITE_FAILED"

	// Wallet
	CodeWalletNotFound Code = "WALLET_NOT_FOUND"

	// Circuit breaker
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
