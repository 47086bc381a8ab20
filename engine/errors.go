package engine

import "errors"

var (
	ErrLicenseNotFound    = errors.New("license not found")
	ErrImportItemNotFound = errors.New("import item not found")
)
