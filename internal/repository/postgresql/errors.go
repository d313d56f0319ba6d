package postgresql

import (
	"fmt"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
)

// storeError marks a driver failure as an infrastructure fault.
func storeError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, productivity.ErrStoreUnavailable, err)
}
