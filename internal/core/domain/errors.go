package domain

import "errors"

var (
	ErrActivityNotFound     = errors.New("activity not found")
	ErrActivityNotActive    = errors.New("activity not active")
	ErrProductNotInActivity = errors.New("product not in activity")
	ErrQuotaExceeded        = errors.New("purchase quota exceeded")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidUser          = errors.New("invalid user")
	ErrUnknownAdmitResult   = errors.New("unknown admit result")
	ErrDuplicateOrder       = errors.New("duplicate order number")
	ErrOptimisticLock       = errors.New("optimistic lock conflict")
	ErrMalformedIntent      = errors.New("malformed order intent")
	ErrOrderNoTaken         = errors.New("order number already in flight")
)
