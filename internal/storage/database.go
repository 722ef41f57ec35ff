package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/thevivotran/studytest/internal/domain"
)

// ErrDuplicateName is returned by CreateDataset when the name is taken.
var ErrDuplicateName = errors.New("dataset name already exists")

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sqlx.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate adds columns introduced after the initial schema. Existing rows get
// an empty string / false so that older databases keep working without data
// loss.
func migrate(db *sqlx.DB) error {
	hasNotes, err := tableHasColumn(db, "cards", "notes")
	if err != nil {
		return err
	}
	if !hasNotes {
		if _, err := db.Exec(`ALTER TABLE cards ADD COLUMN notes TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add notes column: %w", err)
		}
	}

	hasReview, err := tableHasColumn(db, "cards", "mark_for_review")
	if err != nil {
		return err
	}
	if !hasReview {
		if _, err := db.Exec(`ALTER TABLE cards ADD COLUMN mark_for_review BOOLEAN NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("failed to add mark_for_review column: %w", err)
		}
	}

	return nil
}

func tableHasColumn(db *sqlx.DB, table, column string) (bool, error) {
	type columnInfo struct {
		CID          int            `db:"cid"`
		Name         string         `db:"name"`
		Type         string         `db:"type"`
		NotNull      int            `db:"notnull"`
		DefaultValue sql.NullString `db:"dflt_value"`
		PK           int            `db:"pk"`
	}

	var columns []columnInfo
	if err := db.Select(&columns, fmt.Sprintf("PRAGMA table_info(%s)", table)); err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	for _, c := range columns {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

// CreateDataset inserts a new dataset and returns its ID. Name uniqueness is
// enforced by the store; a taken name yields ErrDuplicateName.
func (db *DB) CreateDataset(ctx context.Context, name string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `INSERT INTO datasets (name) VALUES (?)`, name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: datasets.name") {
			return 0, ErrDuplicateName
		}
		return 0, fmt.Errorf("failed to insert dataset %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for dataset %q: %w", name, err)
	}
	return id, nil
}

// DatasetByID retrieves a dataset by ID, or nil if it does not exist.
func (db *DB) DatasetByID(ctx context.Context, id int64) (*domain.Dataset, error) {
	var ds domain.Dataset
	err := db.conn.GetContext(ctx, &ds, `SELECT id, name FROM datasets WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Dataset not found
		}
		return nil, fmt.Errorf("failed to find dataset %d: %w", id, err)
	}
	return &ds, nil
}

// DatasetIDByName returns the ID of the dataset with the given name, or 0 if
// no such dataset exists. Names match case-sensitively.
func (db *DB) DatasetIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.conn.GetContext(ctx, &id, `SELECT id FROM datasets WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find dataset %q: %w", name, err)
	}
	return id, nil
}

// Datasets retrieves all datasets sorted by name.
func (db *DB) Datasets(ctx context.Context) ([]domain.Dataset, error) {
	datasets := []domain.Dataset{}
	err := db.conn.SelectContext(ctx, &datasets, `SELECT id, name FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

// AddCard inserts a new card into a dataset and returns its ID.
func (db *DB) AddCard(ctx context.Context, datasetID int64, card domain.Card) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (dataset_id, question, correct_answer, choice1, choice2, choice3, choice4, choice5, notes, mark_for_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		datasetID,
		card.Question,
		card.CorrectAnswer,
		card.Choice1,
		card.Choice2,
		card.Choice3,
		card.Choice4,
		card.Choice5,
		card.Notes,
		card.MarkForReview,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert card into dataset %d: %w", datasetID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for card: %w", err)
	}
	return id, nil
}

// Cards retrieves all cards of a dataset in creation order. An absent dataset
// and an empty one both yield an empty slice; callers that care check
// existence with DatasetByID.
func (db *DB) Cards(ctx context.Context, datasetID int64) ([]domain.Card, error) {
	cards := []domain.Card{}
	err := db.conn.SelectContext(ctx, &cards, `
		SELECT id, dataset_id, question, correct_answer, choice1, choice2, choice3, choice4, choice5, notes, mark_for_review
		FROM cards WHERE dataset_id = ? ORDER BY id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards for dataset %d: %w", datasetID, err)
	}
	return cards, nil
}

// ReviewCards retrieves the cards of a dataset flagged for review, in
// creation order.
func (db *DB) ReviewCards(ctx context.Context, datasetID int64) ([]domain.Card, error) {
	cards := []domain.Card{}
	err := db.conn.SelectContext(ctx, &cards, `
		SELECT id, dataset_id, question, correct_answer, choice1, choice2, choice3, choice4, choice5, notes, mark_for_review
		FROM cards WHERE dataset_id = ? AND mark_for_review = 1 ORDER BY id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review cards for dataset %d: %w", datasetID, err)
	}
	return cards, nil
}

// DeleteDataset removes a dataset and, through the cascade, all its cards.
// It reports whether a dataset row was actually deleted.
func (db *DB) DeleteDataset(ctx context.Context, id int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete dataset %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for dataset %d: %w", id, err)
	}
	return n > 0, nil
}

// UpdateNotes replaces the notes of a card. It reports whether a card with
// that ID existed.
func (db *DB) UpdateNotes(ctx context.Context, cardID int64, notes string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE cards SET notes = ? WHERE id = ?`, notes, cardID)
	if err != nil {
		return false, fmt.Errorf("failed to update notes for card %d: %w", cardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for card %d: %w", cardID, err)
	}
	return n > 0, nil
}

// ToggleReview flips a card's mark_for_review flag in place. It reports
// whether a card with that ID existed. Concurrent toggles are not serialized;
// the later write wins.
func (db *DB) ToggleReview(ctx context.Context, cardID int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE cards SET mark_for_review = NOT mark_for_review WHERE id = ?`, cardID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle review flag for card %d: %w", cardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for card %d: %w", cardID, err)
	}
	return n > 0, nil
}

// Source represents a deck source, either a local directory or a git URL.
type Source struct {
	ID          int64        `db:"id"`
	Path        string       `db:"path"`
	Kind        string       `db:"kind"`
	LastScanned sql.NullTime `db:"last_scanned"`
}

// InsertSource registers a new deck source and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, kind string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `INSERT INTO sources (path, kind) VALUES (?, ?)`, path, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// Sources retrieves all registered deck sources.
func (db *DB) Sources(ctx context.Context) ([]Source, error) {
	sources := []Source{}
	err := db.conn.SelectContext(ctx, &sources, `SELECT id, path, kind, last_scanned FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// DeleteSource removes a deck source. It reports whether a row was deleted.
func (db *DB) DeleteSource(ctx context.Context, id int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for source %d: %w", id, err)
	}
	return n > 0, nil
}

// TouchSource updates the last_scanned timestamp for a source.
func (db *DB) TouchSource(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE sources SET last_scanned = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source %d: %w", id, err)
	}
	return nil
}
