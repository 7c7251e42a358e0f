package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sitebook/internal/core"
)

// FieldInfo describes one column of a table.
type FieldInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Unique      bool     `json:"unique,omitempty"`
	PrimaryKey  bool     `json:"primaryKey,omitempty"`
	AutoManaged bool     `json:"autoManaged,omitempty"`
	MaxLength   int      `json:"maxLength,omitempty"`
	EnumValues  []string `json:"enumValues,omitempty"`
	References  string   `json:"references,omitempty"`
}

// TableInfo describes a registered table.
type TableInfo struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Policy      string      `json:"policy"`
	Identity    []string    `json:"identity,omitempty"`
	Rank        int         `json:"rank"`
	Cleanup     bool        `json:"cleanup,omitempty"`
	Fields      []FieldInfo `json:"fields,omitempty"`
}

func tableInfo(t core.TableSchema, withFields bool) TableInfo {
	info := TableInfo{
		Name:        t.Name,
		DisplayName: t.DisplayName,
		Policy:      string(t.Identity.Policy),
		Identity:    t.Identity.Fields,
		Rank:        t.Rank,
		Cleanup:     t.Cleanup,
	}
	if !withFields {
		return info
	}
	for _, f := range t.Fields {
		fi := FieldInfo{
			Name:        f.Name,
			Type:        f.Type.String(),
			Required:    f.Required,
			Unique:      f.Unique,
			PrimaryKey:  f.PrimaryKey,
			AutoManaged: f.AutoManaged,
			MaxLength:   f.MaxLength,
			EnumValues:  f.EnumValues,
		}
		if rel, ok := t.Relationship(f.Name); ok {
			fi.References = rel.Table
		}
		info.Fields = append(info.Fields, fi)
	}
	return info
}

// handleListTables returns every registered table in registration order.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names := s.registry.ListTables()
	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		t, _ := s.registry.DescribeTable(name)
		tables = append(tables, tableInfo(t, false))
	}
	writeJSON(w, http.StatusOK, tables)
}

// handleDescribeTable returns one table with its fields.
func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	t, ok := s.registry.DescribeTable(name)
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: %s", core.ErrUnknownTable, name), 0)
		return
	}
	writeJSON(w, http.StatusOK, tableInfo(t, true))
}
