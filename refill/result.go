// Package refill implements the heart of the service: the admission pipeline
// that validates a refill intent against the catalog and live provider
// balances, the orchestrator that persists and initiates accepted refills,
// the status mapper that normalizes provider vocabularies, and the
// read-side status query.
package refill

import "net/http"

// Code is the closed set of operation result codes. Every failure surfaced
// by the service carries exactly one of these; the HTTP status is a pure
// function of the code.
type Code string

const (
	// Admission pipeline rejections, in pipeline order.
	CodeMissingFields            Code = "MISSING_FIELDS"
	CodeBlockchainNotFound       Code = "BLOCKCHAIN_NOT_FOUND"
	CodeAssetNotFound            Code = "ASSET_NOT_FOUND"
	CodeRefillInProgress         Code = "REFILL_IN_PROGRESS"
	CodeCooldownActive           Code = "COOLDOWN_PERIOD_ACTIVE"
	CodeHotWalletAddressMismatch Code = "HOT_WALLET_ADDRESS_VALIDATION_ERROR"
	CodeSweepWalletMismatch      Code = "SWEEP_WALLET_MISMATCH"
	CodeNoSweepWalletConfigured  Code = "NO_SWEEP_WALLET_CONFIGURED"
	CodeNoProviderAvailable      Code = "NO_PROVIDER_AVAILABLE"
	CodeUnsupportedProvider      Code = "UNSUPPORTED_PROVIDER"
	CodeNoLiminalColdWallet      Code = "NO_LIMINAL_COLD_WALLET_CONFIGURED"
	CodeNoFireblocksColdWallet   Code = "NO_FIREBLOCKS_COLD_WALLET_CONFIGURED"
	CodeInsufficientBalance      Code = "INSUFFICIENT_BALANCE"
	CodeSufficientBalance        Code = "SUFFICIENT_BALANCE"
	CodeAboveTriggerThreshold    Code = "ABOVE_TRIGGER_THRESHOLD"
	CodeWillOverfillTarget       Code = "WILL_OVERFILL_TARGET"
	CodeInvalidWalletType        Code = "INVALID_WALLET_TYPE"
	CodeInvalidAmount            Code = "INVALID_AMOUNT"

	// Orchestrator and read-side failures.
	CodeTransactionExists        Code = "TRANSACTION_EXISTS"
	CodeTransactionNotFound      Code = "TRANSACTION_NOT_FOUND"
	CodeTransactionCreationError Code = "TRANSACTION_CREATION_ERROR"
	CodeTransactionUpdateError   Code = "TRANSACTION_UPDATE_ERROR"
	CodeRefillInitiationError    Code = "REFILL_INITIATION_ERROR"
	CodeStatusCheckError         Code = "STATUS_CHECK_ERROR"
	CodeProviderNotAvailable     Code = "PROVIDER_NOT_AVAILABLE"
	CodeUnknownProvider          Code = "UNKNOWN_PROVIDER"

	// Envelope rejections.
	CodeJWTLifetimeExceeded     Code = "JWT_LIFETIME_EXCEEDED"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeMissingAuthHeader       Code = "MISSING_AUTHORIZATION_HEADER"
	CodeInvalidAuthFormat       Code = "INVALID_AUTHORIZATION_FORMAT"
	CodeMissingBearerToken      Code = "MISSING_BEARER_TOKEN"
	CodeRefillRequestIDMismatch Code = "REFILL_REQUEST_ID_MISMATCH"
	CodeMissingParameter        Code = "MISSING_PARAMETER"
	CodeAuthConfigError         Code = "AUTH_CONFIG_ERROR"

	// Surface-level codes.
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a result code to its transport status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeRefillInProgress:
		return http.StatusConflict
	case CodeTransactionNotFound:
		return http.StatusNotFound
	case CodeJWTLifetimeExceeded, CodeTokenExpired, CodeInvalidToken,
		CodeMissingAuthHeader, CodeInvalidAuthFormat, CodeMissingBearerToken:
		return http.StatusUnauthorized
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeInternalError, CodeTransactionCreationError, CodeTransactionUpdateError,
		CodeRefillInitiationError, CodeStatusCheckError, CodeProviderNotAvailable,
		CodeAuthConfigError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is a failed operation result with stable application code and
// optional data payload.
type Error struct {
	code    Code
	message string
	data    interface{}
}

func (e *Error) Error() string          { return e.message }
func (e *Error) ErrorCode() Code        { return e.code }
func (e *Error) ErrorData() interface{} { return e.data }

// HTTPStatus is the transport status of the carried code.
func (e *Error) HTTPStatus() int { return e.code.HTTPStatus() }

// NewError builds a coded failure. data may be nil.
func NewError(code Code, message string, data interface{}) *Error {
	return &Error{code: code, message: message, data: data}
}
