package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error", nil, ""},
		{"unknown table", fmt.Errorf("%w: widgets", ErrUnknownTable), "TBL001"},
		{"no backing store", fmt.Errorf("%w: feedback", ErrNoBackingModel), "TBL002"},
		{"undetectable sheet", errors.New(`could not determine the table for sheet "x"; known tables: a`), "TBL003"},
		{"nothing to export", ErrNothingToExport, "EXP001"},
		{"no rows", fmt.Errorf("%w: users", ErrNoRows), "EXP002"},
		{"archive disabled", errors.New("export archive is not configured"), "EXP003"},
		{"archive failed", errors.New("archive export projects: access denied"), "EXP004"},
		{"no data", ErrNoData, "IMP001"},
		{"busy", ErrTooManyImports, "IMP002"},
		{"cancelled run", fmt.Errorf("import cancelled: %w", context.Canceled), "IMP003"},
		{"context canceled", context.Canceled, "IMP004"},
		{"deadline", context.DeadlineExceeded, "IMP005"},
		{"deep chain", errReferenceTooDeep, "IMP006"},
		{"body too large", errors.New("http: request body too large"), "FILE001"},
		{"bad csv", errors.New("invalid csv: bare quote"), "FILE002"},
		{"format", errors.New(`unsupported file format: ".pdf"`), "FILE003"},
		{"corrupt xlsx", errors.New("open xlsx: zip: not a valid zip file"), "FILE005"},
		{"required", errors.New("email is required"), "VAL003"},
		{"enum", errors.New("status must be one of: A, B"), "VAL004"},
		{"duplicate", errors.New(`duplicate key value violates unique constraint "users_pkey"`), "DB001"},
		{"foreign key", errors.New("insert violates foreign key constraint"), "DB003"},
		{"case insensitive", errors.New("CONNECTION REFUSED"), "DB004"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrNoData)
	if !strings.Contains(got, "(Code: IMP001)") {
		t.Errorf("FormatUserError(ErrNoData) = %q", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrNothingToExport) {
		t.Error("ErrNothingToExport should be user facing")
	}
	if IsUserFacing(errors.New("segfault")) {
		t.Error("unmapped errors should not be user facing")
	}
}

func TestErrorPatterns_UniqueAndLowercase(t *testing.T) {
	seen := make(map[string]bool)
	for _, ep := range errorPatterns {
		if len(ep.patterns) == 0 {
			t.Errorf("%s has no patterns", ep.msg.Code)
		}
		for _, p := range ep.patterns {
			if p != strings.ToLower(p) {
				t.Errorf("pattern %q must be lower case", p)
			}
			if seen[p] {
				t.Errorf("duplicate pattern %q", p)
			}
			seen[p] = true
		}
		if ep.msg.Code == "" || ep.msg.Message == "" {
			t.Errorf("%v has an incomplete message", ep.patterns)
		}
	}
}
