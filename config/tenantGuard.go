package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/dfia_ledger/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TenantGuardPlugin scopes queries/updates/deletes to the request's exporter_id when
// the model has an exporter_id column (licenses). Exporter-portal sessions can then
// only see their own licenses.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include exporter_id manually.
// - Workers and admins bypass explicitly via context flags.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("tenant_guard:query", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("tenant_guard:row", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenant_guard:update", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("tenant_guard:delete", tenantGuardCallback); err != nil {
		return err
	}
	return nil
}

func tenantGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassTenantScope(ctx) {
		return
	}
	exporterID, ok := exporterIdFromContext(ctx)
	if !ok {
		return
	}

	if db.Statement.Schema == nil {
		return
	}
	hasExporterID := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, "exporter_id") {
			hasExporterID = true
			break
		}
	}
	if !hasExporterID {
		return
	}

	if whereHasExporterID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "exporter_id"},
				Value:  exporterID,
			},
		},
	})
}

func exporterIdFromContext(ctx context.Context) (int, bool) {
	v, ok := appctx.GetInt(ctx, appctx.ContextKeyExporterId)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

func shouldBypassTenantScope(ctx context.Context) bool {
	if v, ok := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); ok && v {
		return true
	}
	if v, ok := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin); ok && v {
		return true
	}
	return false
}

func whereHasExporterID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasExporterID(e) {
			return true
		}
	}
	return false
}

func exprHasExporterID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsExporterID(v.Column)
	case clause.Neq:
		return colIsExporterID(v.Column)
	case clause.IN:
		return colIsExporterID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasExporterID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasExporterID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		return strings.Contains(strings.ToLower(v.SQL), "exporter_id")
	default:
		return false
	}
}

func colIsExporterID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "exporter_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "exporter_id")
	default:
		return false
	}
}
