package plugin

import (
	"errors"
	"fmt"
)

// Code classifies a plugin system failure
type Code string

const (
	CodeInvalidPlugin       Code = "invalid_plugin"
	CodeNotFound            Code = "not_found"
	CodeAlreadyRegistered   Code = "already_registered"
	CodeDependencyNotFound  Code = "dependency_not_found"
	CodeCircularDependency  Code = "circular_dependency"
	CodeIncompatibleVersion Code = "incompatible_version"
	CodeLoadError           Code = "load_error"
	CodeInitError           Code = "init_error"
	CodeConfigError         Code = "config_error"
	CodeHookError           Code = "hook_error"
	CodeMiddlewareError     Code = "middleware_error"
	CodeSecurityError       Code = "security_error"
	CodeSandboxError        Code = "sandbox_error"
	CodeRegistryError       Code = "registry_error"
)

// Error is a classified plugin system error carrying the plugin id and
// the operation that produced it.
type Error struct {
	Code     Code
	PluginID string
	Op       string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.PluginID != "" && e.Op != "":
		return fmt.Sprintf("%s: plugin %s: %s: %s", e.Code, e.PluginID, e.Op, msg)
	case e.PluginID != "":
		return fmt.Sprintf("%s: plugin %s: %s", e.Code, e.PluginID, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error
func newError(code Code, pluginID, op, message string) *Error {
	return &Error{Code: code, PluginID: pluginID, Op: op, Message: message}
}

// wrapError wraps a cause with classification
func wrapError(code Code, pluginID, op string, err error) *Error {
	return &Error{Code: code, PluginID: pluginID, Op: op, Err: err}
}

// CodeOf extracts the classification code from an error chain.
// Unclassified errors map to the registry catch-all.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeRegistryError
}

// IsCode reports whether the error chain carries the given code
func IsCode(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
