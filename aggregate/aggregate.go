// Package aggregate merges downloaded CSV files into one table with a single
// unified header.
package aggregate

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhcgn/eml-to-csv/model"
	"github.com/dhcgn/eml-to-csv/stats"
)

var (
	ErrNoInput       = errors.New("no downloaded files to aggregate")
	ErrNoUsableFiles = errors.New("none of the downloaded files could be parsed")
	ErrEmptyFile     = errors.New("file is empty")
)

const utf8BOM = "\ufeff"

// AggregationError means the run has no data to combine.
type AggregationError struct {
	Files int
	Err   error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate %d file(s): %v", e.Files, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// FileReport describes how one input file contributed to the table.
type FileReport struct {
	Path       string
	Columns    []string
	NewColumns []string
	Rows       int
	// Truncated counts rows that had more cells than the file's header.
	Truncated int
	Skipped   bool
	Err       error
}

type Report struct {
	Files   []FileReport
	Added   int
	Skipped int
	Rows    int
}

type Aggregator struct {
	logger *slog.Logger
	events func(stats.Event)
}

func New(logger *slog.Logger, events func(stats.Event)) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{logger: logger, events: events}
}

// Combine parses files in order and re-maps every row onto the unified
// header. Files that are empty or not valid CSV are skipped; an error is
// returned only when no file could be used.
func (a *Aggregator) Combine(paths []string) (*model.CombinedTable, Report, error) {
	var report Report
	if len(paths) == 0 {
		err := &AggregationError{Err: ErrNoInput}
		a.logger.Error("aggregation has no input", "err", err)
		a.emit(stats.Event{Stage: stats.StageAggregate, Type: stats.EventTypeError, Err: err})
		return nil, report, err
	}

	a.logger.Info("aggregation started", "files", len(paths))

	header := NewHeader()
	table := &model.CombinedTable{}
	var lastErr error

	for _, path := range paths {
		name := filepath.Base(path)
		columns, records, truncated, err := parseFile(path)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", name, err)
			report.Files = append(report.Files, FileReport{Path: path, Skipped: true, Err: err})
			report.Skipped++
			a.logger.Warn("file skipped", "file", name, "err", err)
			a.emit(stats.Event{Stage: stats.StageAggregate, Type: stats.EventTypeFileSkipped, Path: path, Err: err})
			continue
		}

		added := header.Merge(columns)
		for _, record := range records {
			row := make(model.Row, len(columns))
			for i, cell := range record {
				row[columns[i]] = cell
			}
			table.Rows = append(table.Rows, row)
		}

		report.Files = append(report.Files, FileReport{
			Path:       path,
			Columns:    columns,
			NewColumns: added,
			Rows:       len(records),
			Truncated:  truncated,
		})
		report.Added++
		report.Rows += len(records)

		if truncated > 0 {
			a.logger.Warn("extra cells dropped", "file", name, "rows", truncated)
		}
		a.logger.Info("file added", "file", name, "rows", len(records), "columns", len(columns), "newColumns", len(added))
		a.emit(stats.Event{Stage: stats.StageAggregate, Type: stats.EventTypeFileAdded, Path: path, Rows: len(records)})
	}

	if report.Added == 0 {
		err := &AggregationError{Files: len(paths), Err: errors.Join(ErrNoUsableFiles, lastErr)}
		a.logger.Error("aggregation failed", "files", len(paths), "skipped", report.Skipped, "err", err)
		a.emit(stats.Event{Stage: stats.StageAggregate, Type: stats.EventTypeError, Err: err})
		return nil, report, err
	}

	table.Header = header.Names()
	a.logger.Info("aggregation finished", "files", report.Added, "skipped", report.Skipped, "rows", report.Rows, "columns", len(table.Header))
	a.emit(stats.Event{Stage: stats.StageAggregate, Type: stats.EventTypeAggregated, Rows: report.Rows})
	return table, report, nil
}

func (a *Aggregator) emit(evt stats.Event) {
	if a.events != nil {
		a.events(evt)
	}
}

// parseFile reads a CSV file into its cleaned header and data records. Each
// record is cut to the header's width; the number of cut records is returned.
func parseFile(path string) (columns []string, records [][]string, truncated int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, 0, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("parse header: %w", err)
	}
	columns = cleanHeader(first)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, 0, fmt.Errorf("parse: %w", err)
		}
		if len(record) > len(columns) {
			record = record[:len(columns)]
			truncated++
		}
		records = append(records, record)
	}

	return columns, records, truncated, nil
}

// cleanHeader trims names, strips a UTF-8 BOM, names blank columns after
// their position and suffixes repeated names so no cell is lost.
func cleanHeader(raw []string) []string {
	columns := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for i, name := range raw {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		unique := name
		for n := 2; used[unique]; n++ {
			unique = name + "_" + strconv.Itoa(n)
		}
		used[unique] = true
		columns[i] = unique
	}
	return columns
}

// WriteFile writes the table as CSV: the header, then every row in order.
func WriteFile(path string, table *model.CombinedTable) error {
	if table == nil {
		return fmt.Errorf("write %s: no table", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(table.Header); err != nil {
		file.Close()
		return err
	}
	for _, row := range table.Rows {
		if err := writer.Write(row.Record(table.Header)); err != nil {
			file.Close()
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
