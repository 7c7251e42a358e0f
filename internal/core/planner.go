package core

import (
	"sort"

	"github.com/JonMunkholm/sitebook/internal/workbook"
)

// PlannedSheet is a sheet that has been matched to a table.
type PlannedSheet struct {
	Name  string
	Table string
	Rank  int
	Rows  []workbook.Row
}

// PlanSheets fills in each sheet's dependency rank and returns the sheets
// sorted by ascending rank. Sheets with equal rank keep their input order.
// The input slice is not modified.
func (r *Registry) PlanSheets(sheets []PlannedSheet) []PlannedSheet {
	out := make([]PlannedSheet, len(sheets))
	copy(out, sheets)
	for i := range out {
		out[i].Rank = r.Rank(out[i].Table)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	return out
}
