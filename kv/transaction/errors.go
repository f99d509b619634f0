package transaction

import (
	"fmt"
)

type ErrDatabaseNotFound struct {
	Name string
}

func (e *ErrDatabaseNotFound) Error() string {
	return fmt.Sprintf("database %s does not exist", e.Name)
}

type ErrDatabaseExists struct {
	Name string
}

func (e *ErrDatabaseExists) Error() string {
	return fmt.Sprintf("database %s already exists", e.Name)
}

type ErrDocumentNotFound struct {
	Database string
	ID       string
}

func (e *ErrDocumentNotFound) Error() string {
	return fmt.Sprintf("document %s not found in %s", e.ID, e.Database)
}

// ErrInvalidArgument reports a request the engine refuses to run, such as an invalid id or index name.
type ErrInvalidArgument struct {
	Reason string
}

func (e *ErrInvalidArgument) Error() string {
	return e.Reason
}

func invalidArgument(format string, args ...interface{}) error {
	return &ErrInvalidArgument{Reason: fmt.Sprintf(format, args...)}
}
