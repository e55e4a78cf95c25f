package module

import "fmt"

// NotFoundCode is the code carried by ModuleNotFoundError.
const NotFoundCode = "MODULE_NOT_FOUND"

// ModuleNotFoundError means a require could not be resolved and no host
// fallback was available.
type ModuleNotFoundError struct {
	ID string
}

func (e ModuleNotFoundError) Error() string {
	return fmt.Sprintf("cannot find module '%s'", e.ID)
}

// Code returns NotFoundCode.
func (e ModuleNotFoundError) Code() string {
	return NotFoundCode
}

// CompileError means the compiler rejected a module's source payload.
type CompileError struct {
	ID  string
	Err error
}

func (e CompileError) Error() string {
	return fmt.Sprintf("compile module %s: %v", e.ID, e.Err)
}

func (e CompileError) Unwrap() error {
	return e.Err
}

// ReloadError wraps the failure raised while re-evaluating the graph.
type ReloadError struct {
	Err error
}

func (e ReloadError) Error() string {
	return fmt.Sprintf("reload failed: %v", e.Err)
}

func (e ReloadError) Unwrap() error {
	return e.Err
}

// RestoreError means recovery from a ReloadError failed too. The graph is
// left in an unspecified state and the process needs a restart.
type RestoreError struct {
	Cause error
	Err   error
}

func (e RestoreError) Error() string {
	return fmt.Sprintf("restore failed after %v: %v", e.Cause, e.Err)
}

func (e RestoreError) Unwrap() error {
	return e.Err
}
