package auction

import "errors"

// Errors returned by auction operations. Each is a machine-readable
// rejection reason; callers classify with errors.Is and must never
// string-match.
var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrAuctionNotActive    = errors.New("auction is not active")
	ErrAuctionExpired      = errors.New("auction has expired")
	ErrAmountNotGreater    = errors.New("bid amount must exceed current price")
	ErrInvalidPrice        = errors.New("invalid price ordering")
	ErrNotAuthorized       = errors.New("caller is not authorized")
	ErrAuctionNotCompleted = errors.New("auction is not awaiting confirmation")
)

// ErrIllegalTransition indicates a status change outside the transition
// table. It is a programming error, not a user-facing condition.
var ErrIllegalTransition = errors.New("illegal status transition")
