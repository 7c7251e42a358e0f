package core

// RowError is a failed row and the reason it failed. Row is the
// spreadsheet row number (the header is row 1).
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// SheetOutcome summarises the import of one sheet.
type SheetOutcome struct {
	SheetName   string     `json:"sheetName"`
	TargetTable string     `json:"targetTable"`
	TotalRows   int        `json:"totalRows"`
	Successful  int        `json:"successful"`
	Failed      int        `json:"failed"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Errors      []RowError `json:"errors"`
}

// SkippedSheet is a sheet that was not imported.
type SkippedSheet struct {
	SheetName string `json:"sheetName"`
	Reason    string `json:"reason"`
}

// Run statuses.
const (
	// StatusSuccess: every row of every sheet was imported.
	StatusSuccess = "success"
	// StatusPartial: some rows or sheets failed or were skipped.
	StatusPartial = "partial"
	// StatusFailed: sheets were processed but no row was imported.
	StatusFailed = "failed"
	// StatusUnresolved: no sheet could be matched to a table.
	StatusUnresolved = "unresolved"
)

// RunSummary aggregates the outcome of one import run.
type RunSummary struct {
	Sheets          []SheetOutcome `json:"sheets"`
	TotalSheets     int            `json:"totalSheets"`
	TotalRecords    int            `json:"totalRecords"`
	TotalSuccessful int            `json:"totalSuccessful"`
	TotalFailed     int            `json:"totalFailed"`
	Skipped         []SkippedSheet `json:"skipped"`
	StubsCreated    int            `json:"stubsCreated"`
	Status          string         `json:"status"`
}

// finalize computes totals and the run status from the sheet outcomes.
func (s *RunSummary) finalize() {
	s.TotalSheets = len(s.Sheets)
	s.TotalRecords, s.TotalSuccessful, s.TotalFailed = 0, 0, 0
	for _, sh := range s.Sheets {
		s.TotalRecords += sh.TotalRows
		s.TotalSuccessful += sh.Successful
		s.TotalFailed += sh.Failed
	}

	switch {
	case len(s.Sheets) == 0:
		s.Status = StatusUnresolved
	case s.TotalSuccessful == 0:
		s.Status = StatusFailed
	case s.TotalFailed > 0 || len(s.Skipped) > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusSuccess
	}
}
