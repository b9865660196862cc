package models

import "github.com/oklog/ulid/v2"

// NewID returns a ULID string. IDs from one process sort in creation order.
func NewID() string {
	return ulid.Make().String()
}
