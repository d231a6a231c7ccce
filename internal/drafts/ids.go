package drafts

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidID indicates a table or row id that does not match the id grammar.
	ErrInvalidID = errors.New("drafts: invalid id")
	// ErrInvalidInput indicates a malformed request that is not tied to a schema.
	ErrInvalidInput = errors.New("drafts: invalid input")

	errHookResultSize = errors.New("drafts: hook returned a different number of rows")

	tableIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)
	rowIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,189}$`)
)

const reservedPrefix = "__"

func validateTableID(tableID string) error {
	if strings.HasPrefix(tableID, reservedPrefix) {
		return fmt.Errorf("%w: table id %q uses the reserved prefix %s", ErrInvalidID, tableID, reservedPrefix)
	}
	if !tableIDPattern.MatchString(tableID) {
		return fmt.Errorf("%w: table id %q", ErrInvalidID, tableID)
	}
	return nil
}

func validateRowID(rowID string) error {
	if !rowIDPattern.MatchString(rowID) {
		return fmt.Errorf("%w: row id %q", ErrInvalidID, rowID)
	}
	return nil
}

func validationFailure(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
