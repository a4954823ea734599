// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/carechat/internal/types"

// Compile-time interface compliance checks.
var _ types.MessageLog = (*MessageLog)(nil)
var _ types.SessionStore = (*SessionStore)(nil)
