// Package requests holds typed operations that run through
// orgservice.Execute / orgservice.(*Service).Run.
package requests

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/orgclient"
)

type WhoAmIResult struct {
	UserID         uuid.UUID `json:"user_id"`
	BusinessUnitID uuid.UUID `json:"business_unit_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
}

// WhoAmI asks the organization which identity the connection runs as.
type WhoAmI struct{}

func (WhoAmI) Execute(ctx context.Context, svc orgservice.Handle, log *zap.SugaredLogger) (WhoAmIResult, error) {
	resp, err := svc.Execute(ctx, orgclient.OrganizationRequest{Name: "WhoAmI"})
	if err != nil {
		return WhoAmIResult{}, err
	}
	var out WhoAmIResult
	for key, dst := range map[string]*uuid.UUID{
		"UserId":         &out.UserID,
		"BusinessUnitId": &out.BusinessUnitID,
		"OrganizationId": &out.OrganizationID,
	} {
		raw, ok := resp.Results[key]
		if !ok {
			continue
		}
		id, err := uuid.Parse(fmt.Sprint(raw))
		if err != nil {
			return WhoAmIResult{}, fmt.Errorf("whoami: %s: %w", key, err)
		}
		*dst = id
	}
	if out.OrganizationID != svc.OrganizationID() {
		log.Warnw("whoami reported a different organization", "reported", out.OrganizationID)
	}
	return out, nil
}
