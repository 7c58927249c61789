//go:build mssql || all_adapters

package mssql

import (
	"context"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "Catalog reads from SQL Server 2019+ and Azure SQL Database",
		},
		Open: func(ctx context.Context, dsn string) (datasource.Adapter, error) {
			return Open(ctx, dsn)
		},
	})
}
