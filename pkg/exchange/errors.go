package exchange

import "errors"

var (
	// ErrDuplicateID - MakeOrder with an id that already denotes an open order
	ErrDuplicateID = errors.New("order id already open")
	// ErrUnknownOrder - operation against an id with no open order
	ErrUnknownOrder = errors.New("unknown order")
	// ErrNotMaker - cancel attempted by someone other than the maker
	ErrNotMaker = errors.New("caller is not the order maker")
	// ErrInsufficientNative - supplied native currency does not cover a pledge or payment
	ErrInsufficientNative = errors.New("insufficient native currency supplied")
)
