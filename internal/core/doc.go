// Package core provides the bulk data exchange engine: spreadsheet
// workbooks in, construction-management tables out, and back again.
//
// The package is independent of any transport or database. It can be used
// by the HTTP API, the CLI, or tests without modification; storage is
// reached only through the [Store] and [TableStore] interfaces.
//
// # Architecture
//
// Everything is driven by a [Registry] built once from a list of
// [TableSchema] values:
//
//   - Field types: each [SemanticType] carries its own transform, validate,
//     sample and export behaviour.
//   - Transform: [Registry.TransformRow] converts a raw [workbook.Row] into
//     a typed [Record], collecting "<field> <reason>" errors.
//   - Detection: [Registry.DetectTable] matches a sheet to a table by exact
//     name, substring, then header overlap.
//   - Planning: [Registry.PlanSheets] orders sheets by dependency rank.
//   - Upsert: every table has one [UpsertPolicy] (natural key, surrogate,
//     composite key, ensure-dependent or append-only).
//
// # Import
//
// [Importer.ImportWorkbook] runs one import:
//
//  1. Sheets are matched to tables; unmatched, empty and unavailable
//     sheets are skipped with a reason.
//  2. Sheets are processed in rank order, rows in file order.
//  3. Each row is transformed, its foreign keys corrected through the run's
//     [RemapTable], and upserted. Row failures are collected, never raised.
//  4. Cleanup-enabled tables drop unreferenced rows missing from the upload.
//
// The result is a [RunSummary] with per-sheet counts and row errors.
//
// # Export
//
// [Exporter] writes persisted tables to workbooks, one sheet per table,
// and generates single-row templates from the registry.
//
// # Error Handling
//
// Sentinel errors ([ErrUnknownTable], [ErrNoData], [ErrNoRows],
// [ErrNoBackingModel], [ErrNothingToExport]) are wrapped with context and
// matched with errors.Is. [MapError] turns any error into a coded
// [UserMessage] for display.
package core
