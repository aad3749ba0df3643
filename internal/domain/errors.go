package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NotFoundError is returned when a catalog entity does not exist.
type NotFoundError struct {
	Kind, Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError is returned when the catalog rejects a record.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// ConflictError is returned when an entity being created already exists.
type ConflictError struct {
	Kind, Ref string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Ref)
}

// SourceError aborts a whole run: the upstream was unreachable or its
// structure could not be interpreted.
type SourceError struct {
	Source string
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("source %s: %s", e.Source, e.Reason)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ItemError is a failure confined to one record.
type ItemError struct {
	GUID  string
	Stage string
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.GUID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ConfigError describes an invalid harvest source configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// ConfigErrors aggregates every problem found in one configuration.
type ConfigErrors []*ConfigError

func (e ConfigErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
