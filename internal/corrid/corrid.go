// Package corrid generates the per-Sandbox correlation id that flows into
// every internal/hvlog entry and hyperlight.Error (spec.md §7, §9).
package corrid

import "github.com/google/uuid"

// New returns a fresh correlation id. Embedders that already track their own
// request id can bypass this and pass it directly to hyperlight.New instead.
func New() string {
	return uuid.NewString()
}
