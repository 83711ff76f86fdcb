package app

import "errors"

// Typed errors for the billing app layer. These enable HTTP mapping without
// relying on SDK-specific error types at the transport layer.
var (
	// ErrSignature indicates the webhook signature is missing or does not verify.
	ErrSignature = errors.New("invalid signature")
	// ErrBadEvent indicates the incoming event payload is invalid or missing required fields.
	ErrBadEvent = errors.New("bad event")
	// ErrDatabase indicates a database-related failure. Callers should retry.
	ErrDatabase = errors.New("database error")
	// ErrGateway indicates a failure from the billing gateway / API calls.
	ErrGateway = errors.New("gateway error")
	// ErrNoSubscription indicates the user has no subscription the operation can act on.
	ErrNoSubscription = errors.New("no subscription")
	// ErrInvalidRequest indicates a caller request is missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConfirmationRequired indicates a destructive maintenance call without explicit confirmation.
	ErrConfirmationRequired = errors.New("confirmation required")
)
