package tools

import "errors"

// Toolbox configuration errors.
var (
	// ErrTypeNotFound is returned when a tool names an unregistered type.
	ErrTypeNotFound = errors.New("tool type not found")

	// ErrTypeNameEmpty is returned when a tool type has no name.
	ErrTypeNameEmpty = errors.New("tool type name cannot be empty")

	// ErrTypeConstructorNil is returned when a tool type has no constructor.
	ErrTypeConstructorNil = errors.New("tool type constructor cannot be nil")

	// ErrTypeAlreadyRegistered is returned when registering a duplicate type.
	ErrTypeAlreadyRegistered = errors.New("tool type already registered")

	// ErrKeyEmpty is returned when a tool or data entry has no key.
	ErrKeyEmpty = errors.New("tool key cannot be empty")

	// ErrInvalidScope is returned for a scope other than request, session or application.
	ErrInvalidScope = errors.New("invalid tool scope")

	// ErrInvalidData is returned for a data entry whose type or value cannot be parsed.
	ErrInvalidData = errors.New("invalid data entry")

	// ErrNilInstance is returned when a constructor yields nil.
	ErrNilInstance = errors.New("tool constructor returned nil")

	// ErrInitUnsupported is returned when a tool declared as needing
	// initialization does not implement Initializer.
	ErrInitUnsupported = errors.New("tool does not support initialization")

	// ErrToolPanic is returned when constructing, configuring or
	// initializing a tool panics.
	ErrToolPanic = errors.New("tool panicked during construction")
)
