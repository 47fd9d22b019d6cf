package pgstore

import "github.com/google/uuid"

// validUUID reports whether id can be compared against the UUID id column.
// Anything else cannot match a stored message.
func validUUID(id string) bool {
	return uuid.Validate(id) == nil
}
