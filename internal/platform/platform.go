// Package platform is the boundary to the chat platform. Components talk to
// it through narrow interfaces declared on their side; the Discord adapter in
// this package implements the full surface and maps platform error codes onto
// the sentinel errors below.
package platform

import (
	"errors"
	"time"
)

var (
	// ErrPermission marks an effect call the platform denied.
	ErrPermission = errors.New("platform: missing permissions")

	// ErrNotFound marks a target entity that no longer exists (user left,
	// message or channel deleted).
	ErrNotFound = errors.New("platform: not found")

	// ErrAwaitConflict rejects a second message wait for a
	// (channel, author) pair that already has one pending.
	ErrAwaitConflict = errors.New("platform: already awaiting a message here")
)

type Role struct {
	ID          string
	Name        string
	Permissions int64
}

type Channel struct {
	ID       string
	Name     string
	ParentID string
	Category bool
}

type Member struct {
	ID       string
	Username string
	Roles    []string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Footer      string
	Timestamp   time.Time
	Fields      []EmbedField
}
