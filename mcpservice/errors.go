package mcpservice

import "errors"

var (
	// ErrToolNotFound is returned when a call names a tool the registry does
	// not hold.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExists is returned when registering a name that is already taken.
	ErrToolExists = errors.New("tool already registered")
	// ErrEmptyToolName is returned when registering a tool without a name.
	ErrEmptyToolName = errors.New("tool name is empty")
	// ErrInvalidToolSchema is returned when a tool's input schema is not a
	// well-formed object schema.
	ErrInvalidToolSchema = errors.New("invalid tool input schema")
)
