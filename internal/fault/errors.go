package fault

import (
	"errors"
	"fmt"
)

// Error is the coded error produced by every undolog component.
//
// Codes:
//   - CONNECTIVITY: engine unreachable or a step timed out (retryable)
//   - INTROSPECTION: catalog query failed or a table cannot be described
//   - SCHEMA_CONFLICT: ledger table exists with an incompatible shape
//   - INSTALL: the engine rejected trigger DDL
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Table is the affected table, if any.
	Table string

	// Trigger is the affected trigger name, if any.
	Trigger string

	// Dropped is set on INSTALL errors when the previous trigger definition
	// was removed but the replacement could not be created.
	Dropped bool

	// Err is the underlying engine or driver error.
	Err error
}

// Code categorizes errors.
type Code string

const (
	// CodeConnectivity indicates the engine could not be reached.
	CodeConnectivity Code = "CONNECTIVITY"

	// CodeIntrospection indicates a catalog read failed.
	CodeIntrospection Code = "INTROSPECTION"

	// CodeSchemaConflict indicates the ledger table has an incompatible shape.
	CodeSchemaConflict Code = "SCHEMA_CONFLICT"

	// CodeInstall indicates trigger DDL was rejected.
	CodeInstall Code = "INSTALL"
)

// ErrLedgerAlreadyExists is returned by dialect error mapping when CREATE
// TABLE for the ledger hits an existing table. The ledger manager swallows it.
var ErrLedgerAlreadyExists = errors.New("ledger table already exists")

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Table != "" && e.Trigger != "":
		msg = fmt.Sprintf("%s (table=%s, trigger=%s)", msg, e.Table, e.Trigger)
	case e.Table != "":
		msg = fmt.Sprintf("%s (table=%s)", msg, e.Table)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsConnectivity reports whether err is a retryable connectivity error.
func IsConnectivity(err error) bool {
	return CodeOf(err) == CodeConnectivity
}

// IsIntrospection reports whether err is a catalog read error.
func IsIntrospection(err error) bool {
	return CodeOf(err) == CodeIntrospection
}

// IsSchemaConflict reports whether err is a ledger shape conflict.
// This is the only error class that aborts a whole run.
func IsSchemaConflict(err error) bool {
	return CodeOf(err) == CodeSchemaConflict
}

// IsInstall reports whether err is a rejected trigger install.
func IsInstall(err error) bool {
	return CodeOf(err) == CodeInstall
}

// Connectivity wraps err as a CONNECTIVITY error.
func Connectivity(op string, err error) *Error {
	return &Error{Code: CodeConnectivity, Message: op, Err: err}
}

// Introspection creates an INTROSPECTION error for table.
func Introspection(table, message string, err error) *Error {
	return &Error{Code: CodeIntrospection, Message: message, Table: table, Err: err}
}

// SchemaConflict creates a SCHEMA_CONFLICT error for the ledger table.
func SchemaConflict(table, message string) *Error {
	return &Error{Code: CodeSchemaConflict, Message: message, Table: table}
}

// Install creates an INSTALL error for a trigger.
func Install(table, trigger string, err error) *Error {
	return &Error{Code: CodeInstall, Message: "trigger rejected by engine", Table: table, Trigger: trigger, Err: err}
}
