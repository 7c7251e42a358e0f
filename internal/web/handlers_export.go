package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sitebook/internal/logging"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var errArchiveDisabled = errors.New("export archive is not configured")

// handleExportAll downloads every table with data as one workbook. The
// tables left out are listed in the X-Export-Skipped header.
func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	wb, report, err := s.exporter.ExportAll(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if len(report.Failed) > 0 {
		skipped := make([]string, len(report.Failed))
		for i, f := range report.Failed {
			skipped[i] = f.Table
		}
		w.Header().Set("X-Export-Skipped", strings.Join(skipped, ","))
	}
	logging.Enrich(r.Context(), s.logger).Info("export all",
		"exported", len(report.Exported),
		"skipped", len(report.Failed),
	)
	s.sendWorkbook(w, r, "export", wb)
}

// handleExportTable downloads one table.
func (s *Server) handleExportTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	wb, err := s.exporter.ExportTable(r.Context(), table)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.sendWorkbook(w, r, table, wb)
}

// handleAllTemplates downloads a template workbook covering every table.
func (s *Server) handleAllTemplates(w http.ResponseWriter, r *http.Request) {
	s.sendWorkbook(w, r, "template", s.exporter.GenerateAllTemplates())
}

// handleTemplate downloads the template of one table.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	wb, err := s.exporter.GenerateTemplate(table)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.sendWorkbook(w, r, table+"-template", wb)
}

// sendWorkbook writes wb as an attachment. ?format=csv sends the first
// sheet as CSV and is only allowed for single-sheet workbooks. ?archive=1
// also stores the workbook through the archiver.
func (s *Server) sendWorkbook(w http.ResponseWriter, r *http.Request, name string, wb *workbook.Workbook) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}

	var buf bytes.Buffer
	var contentType string
	switch format {
	case "xlsx":
		contentType = xlsxContentType
		if err := workbook.WriteXLSX(&buf, wb); err != nil {
			s.respondError(w, r, err, 0)
			return
		}
	case "csv":
		if len(wb.Sheets) != 1 {
			s.respondError(w, r, fmt.Errorf("%w: csv holds a single sheet, request one table", workbook.ErrUnsupportedFormat), http.StatusBadRequest)
			return
		}
		contentType = "text/csv; charset=utf-8"
		if err := workbook.WriteCSV(&buf, wb.Sheets[0]); err != nil {
			s.respondError(w, r, err, 0)
			return
		}
	default:
		s.respondError(w, r, fmt.Errorf("%w: %q", workbook.ErrUnsupportedFormat, format), http.StatusBadRequest)
		return
	}

	if archive, _ := strconv.ParseBool(r.URL.Query().Get("archive")); archive {
		if s.archiver == nil {
			s.respondError(w, r, errArchiveDisabled, http.StatusBadRequest)
			return
		}
		key, err := s.archiver.Archive(r.Context(), name, wb)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("archive export %s: %w", name, err), http.StatusBadGateway)
			return
		}
		w.Header().Set("X-Archive-Key", key)
	}

	filename := fmt.Sprintf("%s-%s.%s", name, time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logging.Enrich(r.Context(), s.logger).Warn("write download", "error", err)
	}
}
