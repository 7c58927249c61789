//go:build mssql || all_adapters

package main

import _ "github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource/mssql"
