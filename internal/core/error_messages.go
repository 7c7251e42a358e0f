// Package core provides the bulk import and export engine.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Table Errors (TBL001-TBL099)
//
//	TBL001 - Unknown table: The requested table is not configured
//	         Action: Check the table name against GET /api/tables
//	         Patterns: "unknown table"
//
//	TBL002 - No backing store: The table exists but has no storage
//	         Action: Contact support; the table has not been provisioned
//	         Patterns: "has no backing store"
//
//	TBL003 - Undetectable sheet: A sheet could not be matched to a table
//	         Action: Rename the sheet to a table name or use template headers
//	         Patterns: "could not determine the table"
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Nothing to export: No table holds any data
//	         Patterns: "nothing to export"
//
//	EXP002 - Empty table: The requested table has no rows
//	         Patterns: "table has no rows"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - No data: Every sheet in the workbook is empty
//	         Patterns: "contains no sheets with data"
//
//	IMP002 - System busy: Too many imports in progress
//	         Patterns: "too many imports"
//
//	IMP003 - Cancelled: The import was cancelled part way
//	         Patterns: "import cancelled"
//
//	IMP004 - Request cancelled: Request was cancelled
//	         Patterns: "context canceled"
//
//	IMP005 - Request timeout: Request timed out
//	         Patterns: "context deadline exceeded"
//
//	IMP006 - Reference chain: Placeholder parents nested too deeply
//	         Patterns: "reference chain too deep"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: "file too large", "request body too large"
//	FILE002 - Invalid CSV: "invalid csv"
//	FILE003 - Unsupported format: "unsupported file format"
//	FILE004 - No file: "no file provided"
//	FILE005 - Corrupt workbook: "open xlsx", "not a valid zip"
//	FILE006 - Empty workbook: "workbook has no sheets"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: "invalid date"
//	VAL002 - Invalid number: "invalid number"
//	VAL003 - Required field: "is required"
//	VAL004 - Invalid enum: "must be one of"
//	VAL005 - Invalid email: "invalid email"
//	VAL006 - Invalid boolean: "invalid boolean"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: "duplicate key"
//	DB002 - Unique constraint: "unique constraint", "violates unique"
//	DB003 - Foreign key: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused: "connection refused"
//	DB005 - Connection reset: "connection reset"
//	DB006 - Timeout: "timeout"
//	DB007 - Deadlock: "deadlock"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

// errorPattern maps any of several lower-case substrings to one message.
type errorPattern struct {
	patterns []string
	msg      UserMessage
}

// errorPatterns is searched in order and the first match wins.
var errorPatterns = []errorPattern{
	// Table
	{[]string{"unknown table"}, UserMessage{
		Code:    "TBL001",
		Message: "Unknown table",
		Action:  "Check the table name against the list of tables",
	}},
	{[]string{"has no backing store"}, UserMessage{
		Code:    "TBL002",
		Message: "This table is not available for import or export",
		Action:  "Contact support; the table has not been provisioned",
	}},
	{[]string{"could not determine the table"}, UserMessage{
		Code:    "TBL003",
		Message: "A sheet could not be matched to a table",
		Action:  "Rename the sheet after a table or start from a template",
	}},

	// Export
	{[]string{"nothing to export"}, UserMessage{
		Code:    "EXP001",
		Message: "There is no data to export",
		Action:  "Import data first or download templates instead",
	}},
	{[]string{"table has no rows"}, UserMessage{
		Code:    "EXP002",
		Message: "The table has no rows",
		Action:  "Import data first or download the template instead",
	}},
	{[]string{"archive is not configured"}, UserMessage{
		Code:    "EXP003",
		Message: "Export archiving is not enabled on this server",
		Action:  "Download the export without archiving or ask an administrator to set ARCHIVE_S3_BUCKET",
	}},
	{[]string{"archive export"}, UserMessage{
		Code:    "EXP004",
		Message: "The export could not be archived",
		Action:  "Please try again or download the export without archiving",
	}},

	// Import
	{[]string{"contains no sheets with data"}, UserMessage{
		Code:    "IMP001",
		Message: "The workbook has no data",
		Action:  "Add rows below the header row of at least one sheet",
	}},
	{[]string{"too many imports"}, UserMessage{
		Code:    "IMP002",
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
	}},
	{[]string{"import cancelled"}, UserMessage{
		Code:    "IMP003",
		Message: "The import stopped before finishing",
		Action:  "Rows before the stop were saved; re-import the file to finish",
	}},
	{[]string{"context canceled"}, UserMessage{
		Code:    "IMP004",
		Message: "Request was cancelled",
		Action:  "Please try again",
	}},
	{[]string{"context deadline exceeded"}, UserMessage{
		Code:    "IMP005",
		Message: "Request timed out",
		Action:  "Try importing a smaller file",
	}},
	{[]string{"reference chain too deep"}, UserMessage{
		Code:    "IMP006",
		Message: "Too many missing parent records",
		Action:  "Import the parent tables before their dependents",
	}},

	// File
	{[]string{"file too large", "request body too large"}, UserMessage{
		Code:    "FILE001",
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller workbooks",
	}},
	{[]string{"invalid csv"}, UserMessage{
		Code:    "FILE002",
		Message: "File is not a valid CSV",
		Action:  "Ensure file is comma-separated with consistent columns",
	}},
	{[]string{"unsupported file format"}, UserMessage{
		Code:    "FILE003",
		Message: "File type is not supported",
		Action:  "Upload an .xlsx or .csv file",
	}},
	{[]string{"no file provided"}, UserMessage{
		Code:    "FILE004",
		Message: "No file was provided",
		Action:  "Please select a workbook to import",
	}},
	{[]string{"open xlsx", "not a valid zip"}, UserMessage{
		Code:    "FILE005",
		Message: "The workbook could not be read",
		Action:  "Re-save the file as .xlsx and try again",
	}},
	{[]string{"workbook has no sheets"}, UserMessage{
		Code:    "FILE006",
		Message: "The workbook has no sheets",
		Action:  "Add at least one sheet",
	}},

	// Validation
	{[]string{"invalid date"}, UserMessage{
		Code:    "VAL001",
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
	}},
	{[]string{"invalid number"}, UserMessage{
		Code:    "VAL002",
		Message: "Invalid number format detected",
		Action:  "Use plain digits with an optional decimal point",
	}},
	{[]string{"is required"}, UserMessage{
		Code:    "VAL003",
		Message: "Required field is empty",
		Action:  "Ensure all required columns have values",
	}},
	{[]string{"must be one of"}, UserMessage{
		Code:    "VAL004",
		Message: "Value is not in the allowed list",
		Action:  "Check the allowed values for this field",
	}},
	{[]string{"invalid email"}, UserMessage{
		Code:    "VAL005",
		Message: "Invalid email address",
		Action:  "Use the form name@example.com",
	}},
	{[]string{"invalid boolean"}, UserMessage{
		Code:    "VAL006",
		Message: "Invalid yes/no value",
		Action:  "Use yes/no, true/false, or 1/0",
	}},

	// Database
	{[]string{"duplicate key"}, UserMessage{
		Code:    "DB001",
		Message: "A record with this ID already exists",
		Action:  "Review the failed rows for duplicates",
	}},
	{[]string{"unique constraint"}, UserMessage{
		Code:    "DB002",
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate entries in your workbook",
	}},
	{[]string{"violates unique"}, UserMessage{
		Code:    "DB002",
		Message: "A duplicate value was found",
		Action:  "Review your data for duplicate key values",
	}},
	{[]string{"foreign key constraint", "violates foreign key"}, UserMessage{
		Code:    "DB003",
		Message: "Referenced record does not exist",
		Action:  "Include the parent rows in the workbook",
	}},
	{[]string{"connection refused"}, UserMessage{
		Code:    "DB004",
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
	}},
	{[]string{"connection reset"}, UserMessage{
		Code:    "DB005",
		Message: "Database connection was interrupted",
		Action:  "Please try again",
	}},
	{[]string{"timeout"}, UserMessage{
		Code:    "DB006",
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
	}},
	{[]string{"deadlock"}, UserMessage{
		Code:    "DB007",
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
	}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		for _, p := range ep.patterns {
			if strings.Contains(errStr, p) {
				return ep.msg
			}
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
