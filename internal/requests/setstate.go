package requests

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/orgclient"
)

// SetState moves several records of one table to a state/status pair. It
// stops at the first failure; records already updated stay updated.
type SetState struct {
	EntityName string
	IDs        []uuid.UUID
	State      int
	Status     int
}

func (s SetState) Execute(ctx context.Context, svc orgservice.Handle, log *zap.SugaredLogger) error {
	for i, id := range s.IDs {
		err := svc.Update(ctx, orgclient.Entity{
			LogicalName: s.EntityName,
			ID:          id,
			Attributes:  map[string]any{"statecode": s.State, "statuscode": s.Status},
		})
		if err != nil {
			log.Warnw("set state stopped", "entity", s.EntityName, "id", id, "updated", i, "err", err)
			return fmt.Errorf("set state %s(%s): %w", s.EntityName, id, err)
		}
	}
	return nil
}
