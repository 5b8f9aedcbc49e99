package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidScore        = errors.New("score must be between -1 and 1")
	ErrMissingFileInfo     = errors.New("file path is required")
	ErrEmptyContent        = errors.New("content cannot be empty")
	ErrMissingRepositoryID = errors.New("repository id is required")
	ErrMissingRootPath     = errors.New("repository root path is required")
)
