package contract

import (
	"errors"
	"fmt"
)

// Kind groups contract errors by what the caller has to do about them.
type Kind string

const (
	KindState         Kind = "state"         // a precondition step is missing
	KindAuthorization Kind = "authorization" // the wrong principal signed
	KindValidation    Kind = "validation"    // an argument is out of range
	KindBusiness      Kind = "business"      // the call conflicts with current state
	KindArithmetic    Kind = "arithmetic"    // a checked operation left its range
)

// Error is a typed contract failure. Every failed call leaves the store
// unchanged. Codes are stable and exposed to clients.
type Error struct {
	Code uint32
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return "contract: " + e.msg }

func newError(code uint32, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrAlreadyInitialized     = newError(1, KindState, "already initialized")
	ErrAdminNotSet            = newError(2, KindState, "admin not configured")
	ErrOracleNotSet           = newError(3, KindState, "oracle not configured")
	ErrUnauthorizedAdmin      = newError(4, KindAuthorization, "admin did not authorize call")
	ErrUnauthorizedOracle     = newError(5, KindAuthorization, "oracle did not authorize call")
	ErrInvalidBetAmount       = newError(6, KindValidation, "bet amount must be a positive whole number")
	ErrNoActiveRound          = newError(7, KindState, "no active round")
	ErrRoundEnded             = newError(8, KindBusiness, "round has ended")
	ErrInsufficientBalance    = newError(9, KindBusiness, "insufficient balance")
	ErrAlreadyBet             = newError(10, KindBusiness, "already placed a bet in this round")
	ErrOverflow               = newError(11, KindArithmetic, "arithmetic overflow")
	ErrInvalidPrice           = newError(12, KindValidation, "price must be a positive whole number")
	ErrInvalidDuration        = newError(13, KindValidation, "duration must be between 1 and 100000 ledgers")
	ErrInvalidPriceScale      = newError(14, KindValidation, "predicted price exceeds 4-decimal scale")
	ErrWrongModeForPrediction = newError(15, KindValidation, "operation does not match round mode")
	ErrRoundActive            = newError(16, KindBusiness, "active round still holds stakes")
	ErrInvalidMode            = newError(17, KindValidation, "unknown round mode")
	ErrInvalidSide            = newError(18, KindValidation, "unknown bet side")
)

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// overflow tags an arithmetic failure from the amount package.
func overflow(err error) error {
	return fmt.Errorf("%w: %w", ErrOverflow, err)
}
