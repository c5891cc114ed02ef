package requests

import (
	"context"

	"go.uber.org/zap"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/orgclient"
)

// FetchAll follows paging cookies until the result set is exhausted or
// MaxRecords entities were collected (0 means no limit).
type FetchAll struct {
	Query      orgclient.Query
	MaxRecords int
}

func (f FetchAll) Execute(ctx context.Context, svc orgservice.Handle, log *zap.SugaredLogger) (orgclient.EntityCollection, error) {
	q := f.Query
	out := orgclient.EntityCollection{EntityName: q.EntityName, Entities: []orgclient.Entity{}}
	pages := 0
	for {
		page, err := svc.RetrieveMultiple(ctx, q)
		if err != nil {
			return orgclient.EntityCollection{}, err
		}
		pages++
		out.Entities = append(out.Entities, page.Entities...)
		if f.MaxRecords > 0 && len(out.Entities) >= f.MaxRecords {
			out.MoreRecords = len(out.Entities) > f.MaxRecords || page.MoreRecords
			out.Entities = out.Entities[:f.MaxRecords]
			break
		}
		if !page.MoreRecords || page.PagingCookie == "" {
			break
		}
		q.PagingCookie = page.PagingCookie
	}
	log.Debugw("fetched", "entity", q.EntityName, "pages", pages, "records", len(out.Entities))
	return out, nil
}
