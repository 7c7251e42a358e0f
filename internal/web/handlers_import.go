package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sitebook/internal/core"
	"github.com/JonMunkholm/sitebook/internal/logging"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

var errNoFile = errors.New("no file provided")

// ImportRequest is the JSON form of an import: sheets of ordered rows.
type ImportRequest struct {
	Sheets []ImportSheet `json:"sheets"`
}

// ImportSheet is one named sheet of an ImportRequest.
type ImportSheet struct {
	Name string         `json:"name"`
	Rows []workbook.Row `json:"rows"`
}

// ImportResponse is the run summary plus the id used in the server log.
// Error is set when the run stopped early; rows imported before that are
// still reported.
type ImportResponse struct {
	ImportID string `json:"importId"`
	*core.RunSummary
	Error *ErrorResponse `json:"error,omitempty"`
}

// handleImport imports a workbook sent as multipart form files, as a raw
// xlsx/csv body, or as JSON sheets.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	wb, err := s.readWorkbook(r)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		s.respondError(w, r, err, status)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	defer s.limiter.Release()

	importID := uuid.NewString()
	logger := logging.Enrich(r.Context(), s.logger).With("import_id", importID, "sheets", len(wb.Sheets))
	logger.Info("import requested")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Import.Timeout)
	defer cancel()

	start := time.Now()
	summary, err := s.importer.ImportWorkbook(ctx, wb)
	if summary == nil {
		s.respondError(w, r, err, 0)
		return
	}

	resp := ImportResponse{ImportID: importID, RunSummary: summary}
	status := http.StatusOK
	if err != nil {
		msg := core.MapError(err)
		resp.Error = &ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code}
		status = statusFor(err)
		logger.Warn("import stopped early", "error", err, "successful", summary.TotalSuccessful)
	} else {
		logger.Info("import completed",
			"status", summary.Status,
			"successful", summary.TotalSuccessful,
			"failed", summary.TotalFailed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	writeJSON(w, status, resp)
}

// readWorkbook decodes the request body according to its content type.
func (s *Server) readWorkbook(r *http.Request) (*workbook.Workbook, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		return s.readMultipart(r)
	case "application/json":
		return readJSONSheets(r)
	}

	name := r.URL.Query().Get("filename")
	if name == "" {
		switch mediaType {
		case "text/csv":
			name = "upload.csv"
		case xlsxContentType:
			name = "upload.xlsx"
		default:
			return nil, fmt.Errorf("%w: content type %q", workbook.ErrUnsupportedFormat, mediaType)
		}
	}
	return workbook.Decode(name, r.Body)
}

// readMultipart merges the sheets of every "file" part into one workbook.
func (s *Server) readMultipart(r *http.Request) (*workbook.Workbook, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return nil, errNoFile
	}

	wb := workbook.New()
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		part, err := workbook.Decode(fh.Filename, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		for _, sheet := range part.Sheets {
			wb.AddSheet(sheet)
		}
	}
	return wb, nil
}

func readJSONSheets(r *http.Request) (*workbook.Workbook, error) {
	var req ImportRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if len(req.Sheets) == 0 {
		return nil, core.ErrNoData
	}

	wb := workbook.New()
	for i, sh := range req.Sheets {
		name := strings.TrimSpace(sh.Name)
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		wb.AddSheet(workbook.FromRecords(name, sh.Rows))
	}
	return wb, nil
}
