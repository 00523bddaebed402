package service

import "errors"

// Domain errors surfaced to the API layer, which maps them to HTTP codes.
var (
	ErrInvalidSender   = errors.New("sender not found or inactive")
	ErrNoSender        = errors.New("no active sender configured")
	ErrSenderNotFound  = errors.New("sender not found")
	ErrLastSender      = errors.New("cannot delete the only sender")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotCancellable  = errors.New("message is not cancellable")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrAuthFailed      = errors.New("authentication failed")
)
