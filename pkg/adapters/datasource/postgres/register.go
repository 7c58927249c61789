package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Catalog reads and EXPLAIN dry runs against PostgreSQL 12+",
		},
		Open: func(ctx context.Context, dsn string) (datasource.Adapter, error) {
			return Open(ctx, dsn)
		},
	})
}
