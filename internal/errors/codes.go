package errors

// ErrorCode represents a unique error code for specific error scenarios
type ErrorCode string

const (
	// Request errors
	CodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeMissingField      ErrorCode = "MISSING_FIELD"
	CodePromptEmpty       ErrorCode = "PROMPT_EMPTY"
	CodeUnknownModel      ErrorCode = "UNKNOWN_MODEL"
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Auth errors
	CodeUserUnauthorized ErrorCode = "USER_UNAUTHORIZED"
	CodeTokenInvalid     ErrorCode = "TOKEN_INVALID"
	CodeTokenExpired     ErrorCode = "TOKEN_EXPIRED"

	// Chain errors
	CodeChainNotFound         ErrorCode = "CHAIN_NOT_FOUND"
	CodeChainInsertFailed     ErrorCode = "CHAIN_INSERT_FAILED"
	CodeChainLinkFailed       ErrorCode = "CHAIN_LINK_FAILED"
	CodeChainProcessingFailed ErrorCode = "CHAIN_PROCESSING_FAILED"
	CodeIdempotencyConflict   ErrorCode = "IDEMPOTENCY_CONFLICT"

	// Analysis errors
	CodeAnalysisNotFound ErrorCode = "ANALYSIS_NOT_FOUND"

	// Repository errors
	CodeDatabaseError ErrorCode = "DATABASE_ERROR"
	CodeDynamoDBError ErrorCode = "DYNAMODB_ERROR"
	CodeSupabaseError ErrorCode = "SUPABASE_ERROR"
	CodeCircuitOpen   ErrorCode = "CIRCUIT_OPEN"

	// Infrastructure errors
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeEventPublishFailed ErrorCode = "EVENT_PUBLISH_FAILED"

	// External service errors
	CodeLLMProviderError       ErrorCode = "LLM_PROVIDER_ERROR"
	CodeLLMResponseInvalid     ErrorCode = "LLM_RESPONSE_INVALID"
	CodeEmbeddingProviderError ErrorCode = "EMBEDDING_PROVIDER_ERROR"
)

// HTTPStatusCode returns the appropriate HTTP status code for an error code
func (c ErrorCode) HTTPStatusCode() int {
	switch c {
	// 400 Bad Request
	case CodeValidationFailed, CodeInvalidInput, CodeMissingField,
		CodePromptEmpty, CodeUnknownModel, CodeUnsupportedFormat:
		return 400

	// 401 Unauthorized
	case CodeUserUnauthorized, CodeTokenInvalid, CodeTokenExpired:
		return 401

	// 404 Not Found
	case CodeChainNotFound, CodeAnalysisNotFound:
		return 404

	// 409 Conflict
	case CodeIdempotencyConflict:
		return 409

	// 502 Bad Gateway
	case CodeLLMProviderError, CodeLLMResponseInvalid, CodeEmbeddingProviderError:
		return 502

	// 503 Service Unavailable
	case CodeServiceUnavailable, CodeCircuitOpen:
		return 503

	// 504 Gateway Timeout
	case CodeTimeout:
		return 504

	default:
		return 500
	}
}
