package ctxstore

import "errors"

var (
	ErrNotFound        = errors.New("context not found")
	ErrVariableUnknown = errors.New("variable not defined in context chain")
	ErrNoActiveContext = errors.New("no active context")
	ErrHistoryEmpty    = errors.New("context history is empty")
	ErrInvalidArgument = errors.New("invalid argument")
)
