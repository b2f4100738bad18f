package domain

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order data")
	ErrUnauthorized  = errors.New("webhook not authorized")
)
