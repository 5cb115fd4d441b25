// Package commands turns CSV rows into typed commands and executes them
// through one strategy per command type.
package commands

import (
	"context"
	"strings"
)

// Type identifies a bulk command.
type Type string

const (
	CreateUser          Type = "CREATE_USER"
	AddUserToGroup      Type = "ADD_USER_TO_GROUP"
	RemoveUserFromGroup Type = "REMOVE_USER_FROM_GROUP"
	CreateGroup         Type = "CREATE_GROUP"
	CreateExpense       Type = "CREATE_EXPENSE"
	CreateSettlement    Type = "CREATE_SETTLEMENT"
)

// AllTypes lists every supported command type in declaration order.
var AllTypes = []Type{
	CreateUser,
	AddUserToGroup,
	RemoveUserFromGroup,
	CreateGroup,
	CreateExpense,
	CreateSettlement,
}

// Valid reports whether t is a supported command type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

func typeList() string {
	names := make([]string, len(AllTypes))
	for i, t := range AllTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// Record maps column names to raw cell values for one row.
type Record map[string]string

// Get returns the trimmed value of a column.
func (r Record) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// Context is everything a strategy needs to execute one row.
type Context struct {
	Type   Type
	Record Record
	JobID  string
	// UserID is the job owner. Commands act as this user.
	UserID string
	// LineNumber is the 1-based data row index.
	LineNumber int
}

// Result is the outcome of executing one command.
type Result struct {
	Success bool
	// CommandType is the resolved type, or jobs.UnknownCommandType.
	CommandType string
	Record      Record
	Details     map[string]interface{}
	Error       string
}

// Strategy executes one command type.
//
// Execute never returns an error or panics past its boundary: validation,
// domain and infrastructure failures are reported through Result.
type Strategy interface {
	Type() Type
	Execute(ctx context.Context, cmd Context) Result
}
