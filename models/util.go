package models

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique id for kind.
// Example: GenerateID(KindLoad) -> "load-uuid-here"
func GenerateID(kind Kind) string {
	return fmt.Sprintf("%s-%s", kind.IDPrefix(), uuid.New().String())
}
