package models

import "errors"

var (
	ErrDuplicateLicenseNumber = errors.New("duplicate license number")
	ErrDuplicateSerialNumber  = errors.New("duplicate serial number on license")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidTradeDirection  = errors.New("invalid trade direction")
	ErrAllotmentSettled       = errors.New("allotment already settled")
	ErrLicenseMismatch        = errors.New("import line belongs to another license")
)
