package model

import "errors"

// Business errors. All of them abort a single operation without touching
// global state and map to 4xx responses at the API layer.
var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidUnlock          = errors.New("cannot unlock more than locked balance")
	ErrInvalidStateTransition = errors.New("invalid order status transition")
	ErrOverFill               = errors.New("fill quantity exceeds remaining order quantity")
	ErrWalletExists           = errors.New("wallet already exists")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrUnknownSymbol          = errors.New("unknown trading symbol")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrOrderNotFound          = errors.New("order not found")
)
