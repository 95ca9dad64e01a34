package reldoc

import "fmt"

// ConfigError reports a problem with schema registration or use: a
// duplicate index name (AddMapIndex / AddReduceIndex panic with it), a
// document type that was never registered, or a Delete of a document with
// no Id. Bootstrap does not compare existing tables with the registered
// schema, so InitializeAsync returns no ConfigError.
type ConfigError struct {
	Index string
	Table string
	Msg   string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Index != "":
		return fmt.Sprintf("reldoc: config: index %q: %s", e.Index, e.Msg)
	case e.Table != "":
		return fmt.Sprintf("reldoc: config: table %q: %s", e.Table, e.Msg)
	default:
		return fmt.Sprintf("reldoc: config: %s", e.Msg)
	}
}

// SerializationError reports a Codec refusing to marshal or unmarshal a
// document body.
type SerializationError struct {
	Type string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("reldoc: serializing %s: %v", e.Type, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConcurrencyError reports that a document's Version column no longer
// matched the value the session last read, at flush time. The session
// that produced it is cancelled; callers must start a new one.
type ConcurrencyError struct {
	Type string
	ID   int64
	Err  error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("reldoc: concurrency conflict on %s/%d", e.Type, e.ID)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// TransientError wraps an error returned by the database driver. Driver
// errors are not classified: a connection reset or deadlock victim arrives
// as a TransientError, and so does a constraint violation such as a
// duplicate key on a unique index. The library never retries internally.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("reldoc: transient I/O error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// CompileError reports a problem found while building a query, before any
// SQL reaches the database: Compile returns it for a predicate column that
// neither the primary index nor any joined index declares. Join accepts any
// index without a compatibility check, and ParseFilter reports its syntax
// errors as *ParseError, not CompileError.
type CompileError struct {
	Column string
	Msg    string
}

func (e *CompileError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("reldoc: query: column %q: %s", e.Column, e.Msg)
	}
	return fmt.Sprintf("reldoc: query: %s", e.Msg)
}
