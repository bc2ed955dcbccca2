package aggregate

import "fmt"

// ErrorKind is a closed set of domain rejection reasons. Kinds, not bare
// strings, so callers can switch on them without string matching.
type ErrorKind string

const (
	ErrEmptyTitle             ErrorKind = "empty_title"
	ErrDefaultCollectionExists ErrorKind = "default_collection_exists"
	ErrDuplicateSlug          ErrorKind = "duplicate_slug"
	ErrCollectionNotFound     ErrorKind = "collection_not_found"
	ErrFeedNotSubscribed      ErrorKind = "feed_not_subscribed"
	ErrCannotDeleteDefault    ErrorKind = "cannot_delete_default"
	ErrPlaylistNotFound       ErrorKind = "playlist_not_found"
	ErrInvalidPrivacyLevel    ErrorKind = "invalid_privacy_level"
	ErrInvalidPosition        ErrorKind = "invalid_position"
)

// DomainError is returned by Decide when a command is rejected. It is
// deterministic given (state, command) — never returned for infrastructure
// reasons.
type DomainError struct {
	Kind ErrorKind
	Msg  string
}

func (e *DomainError) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(kind ErrorKind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
