package exchange

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Failure reasons returned to callers verbatim. The strings are part of the
// public interface and must not change between logic versions.
var (
	ErrInvalidPriceFeed          = errors.New("Invalid price feed")
	ErrInsufficientTokenBalance  = errors.New("Insufficient Token balance")
	ErrInsufficientNativeBalance = errors.New("Insufficient ETH balance")
	ErrZeroAmount                = errors.New("Must send ETH to swap")
	ErrAlreadyInitialized        = errors.New("InvalidInitialization")
	ErrNotInitialized            = errors.New("NotInitializing")
	ErrUnauthorized              = errors.New("OwnableUnauthorizedAccount")
	ErrInvalidOwner              = errors.New("OwnableInvalidOwner")
	ErrZeroAddress               = errors.New("Invalid address")
	ErrUnknownImplementation     = errors.New("ERC1967InvalidImplementation")
	ErrIncompatibleLayout        = errors.New("exchange: incompatible storage layout")
	ErrMethodNotSupported        = errors.New("exchange: method not supported by active logic")
	ErrNotExchange               = errors.New("exchange: contract is not an exchange proxy")
	ErrConversionOverflow        = errors.New("exchange: conversion overflow")
)

// UnauthorizedAccountError names the account that failed the owner check.
type UnauthorizedAccountError struct {
	Account common.Address
}

func (e *UnauthorizedAccountError) Error() string {
	return fmt.Sprintf("%s(%s)", ErrUnauthorized, e.Account.Hex())
}

// Is reports whether target is ErrUnauthorized.
func (e *UnauthorizedAccountError) Is(target error) bool {
	return target == ErrUnauthorized
}

func invalidOwner(addr common.Address) error {
	return fmt.Errorf("%w(%s)", ErrInvalidOwner, addr.Hex())
}

func invalidImplementation(addr common.Address) error {
	return fmt.Errorf("%w(%s)", ErrUnknownImplementation, addr.Hex())
}
