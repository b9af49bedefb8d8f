package gateway

import "errors"

var (
	// ErrMenuNotFound means the outermost deposit menu never appeared.
	ErrMenuNotFound = errors.New("deposit menu not found")
	// ErrRecoveryFailed means the page could not be brought back to the
	// state a leaf needs.
	ErrRecoveryFailed = errors.New("session recovery failed")
	// ErrLeafIncomplete means a leaf's form could not be filled or submitted.
	ErrLeafIncomplete = errors.New("leaf could not be completed")
)
