package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// hasConflict reports whether the doctor already has an appointment at
// exactly at whose derived status is anything other than cancelled.
func hasConflict(ctx context.Context, tx Tx, doctorID uuid.UUID, at time.Time) (bool, error) {
	statuses, err := tx.SlotStatuses(ctx, doctorID, at)
	if err != nil {
		return false, fmt.Errorf("load slot statuses: %w", err)
	}
	for _, s := range statuses {
		if s != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}
