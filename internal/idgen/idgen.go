package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different kinds of identifiers
const (
	PrefixRequest = "req_"
)

// NewRequest generates a new request ID with req_ prefix
func NewRequest() string {
	return PrefixRequest + uuid.New().String()
}

// New generates a bare UUID, used for session JTIs
func New() string {
	return uuid.New().String()
}
