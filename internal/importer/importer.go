package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/thevivotran/studytest/internal/domain"
	"github.com/thevivotran/studytest/internal/storage"
)

// Rejections produced before any card reaches the store. None of them leave
// a dataset behind.
var (
	ErrEmptyName     = errors.New("dataset name must not be empty")
	ErrDuplicateName = errors.New("dataset name already exists")
	ErrEncoding      = errors.New("file is not valid UTF-8")
	ErrEmptyImport   = errors.New("file is empty or contains no data rows")
)

// MalformedRowError reports a row whose field count is not 6 or 7. It aborts
// the whole import.
type MalformedRowError struct {
	Line   int
	Fields int
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("line %d: expected 6 or 7 fields, got %d", e.Line, e.Fields)
}

// MissingFieldError reports a row with an empty required field (question,
// answer or choices 1-4). It aborts the whole import.
type MissingFieldError struct {
	Line int
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("line %d: question, correct answer and choices 1-4 must not be empty", e.Line)
}

// InsertError reports a storage failure while committing cards. The dataset
// and any cards inserted before the failing row stay in place; the import is
// not transactional.
type InsertError struct {
	Line int
	Err  error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("line %d: failed to store card: %v", e.Line, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// Report summarizes a successful import.
type Report struct {
	DatasetID  int64
	CardsAdded int
}

// Importer turns uploaded CSV content into a stored dataset.
type Importer struct {
	db *storage.DB
}

func New(db *storage.DB) *Importer {
	return &Importer{db: db}
}

type parsedRow struct {
	line int
	card domain.Card
}

// Import validates the CSV content and, only when every row passed, creates
// the dataset and inserts its cards. Rows carry 6 or 7 comma-separated
// fields: question, correct answer, choices 1-4 and an optional fifth
// choice. All fields are trimmed; a fifth choice that is blank after
// trimming is stored as NULL.
func (imp *Importer) Import(ctx context.Context, name string, content []byte) (*Report, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	existing, err := imp.db.DatasetIDByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check dataset name: %w", err)
	}
	if existing != 0 {
		return nil, ErrDuplicateName
	}

	if !utf8.Valid(content) {
		return nil, ErrEncoding
	}

	rows, err := parseRows(content)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmptyImport
	}

	datasetID, err := imp.db.CreateDataset(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}

	// One insert per row, no surrounding transaction. A failure here stops
	// the import and leaves the dataset with the rows committed so far.
	for _, row := range rows {
		if _, err := imp.db.AddCard(ctx, datasetID, row.card); err != nil {
			return nil, &InsertError{Line: row.line, Err: err}
		}
	}

	return &Report{DatasetID: datasetID, CardsAdded: len(rows)}, nil
}

func parseRows(content []byte) ([]parsedRow, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []parsedRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		// Blank lines are skipped by the reader, so report the input line
		// the record actually starts on.
		line, _ := reader.FieldPos(0)

		if len(record) < 6 || len(record) > 7 {
			return nil, &MalformedRowError{Line: line, Fields: len(record)}
		}

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		for _, field := range record[:6] {
			if field == "" {
				return nil, &MissingFieldError{Line: line}
			}
		}

		card := domain.Card{
			Question:      record[0],
			CorrectAnswer: record[1],
			Choice1:       record[2],
			Choice2:       record[3],
			Choice3:       record[4],
			Choice4:       record[5],
		}
		if len(record) == 7 && record[6] != "" {
			choice5 := record[6]
			card.Choice5 = &choice5
		}

		rows = append(rows, parsedRow{line: line, card: card})
	}

	return rows, nil
}
