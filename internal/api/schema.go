package api

import (
	"net/http"

	"github.com/querypilot/querypilot/internal/catalog"
)

type schemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Hint string `json:"hint,omitempty"`
}

type schemaTable struct {
	Name          string         `json:"name"`
	QualifiedName string         `json:"qualified_name"`
	Columns       []schemaColumn `json:"columns"`
}

func handleListSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	tables := deps.Catalog.Tables()
	out := make([]schemaTable, 0, len(tables))
	for _, table := range tables {
		out = append(out, toSchemaTable(table))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

func handleGetSchemaTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	name := r.PathValue("table")
	table, ok := deps.Catalog.Lookup(name)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, map[string]any{"table": name})
		return
	}
	writeJSON(w, http.StatusOK, toSchemaTable(table))
}

func toSchemaTable(table catalog.Table) schemaTable {
	columns := make([]schemaColumn, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, schemaColumn{Name: col.Name, Type: col.Type, Hint: col.EffectiveHint()})
	}
	return schemaTable{Name: table.ShortName(), QualifiedName: table.QualifiedName, Columns: columns}
}

func handleWarehouseIntegrity(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Integrity == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INTEGRITY_NOT_CONFIGURED", "warehouse integrity checks are not configured", false, nil)
		return
	}
	summary, ok := deps.Integrity.Last()
	if !ok {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INTEGRITY_PENDING", "warehouse integrity has not been checked yet", true, nil)
		return
	}
	status := "ok"
	var message string
	if err := deps.Integrity.Ready(r.Context()); err != nil {
		status = "degraded"
		message = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "message": message, "summary": summary})
}
