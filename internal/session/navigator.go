package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thevivotran/studytest/internal/domain"
	"github.com/thevivotran/studytest/internal/progress"
	"github.com/thevivotran/studytest/internal/storage"
)

// Mode selects which card list a session walks: learn mode walks the full
// deck and persists its position, review mode walks only flagged cards and
// never touches stored progress.
type Mode string

const (
	ModeLearn  Mode = "learn"
	ModeReview Mode = "review"
)

// ParseMode maps a request string to a Mode, defaulting to learn.
func ParseMode(s string) Mode {
	if s == string(ModeReview) {
		return ModeReview
	}
	return ModeLearn
}

// State is the terminal state of a navigation attempt.
type State int

const (
	// StateValid means a card was resolved.
	StateValid State = iota
	// StateRedirect means the requested index was out of bounds; the caller
	// should re-enter at the corrected index. Recoverable, not an error.
	StateRedirect
	// StateEmpty means no card list could be resolved at all.
	StateEmpty
)

// EmptyReason explains a StateEmpty resolution.
type EmptyReason int

const (
	DatasetNotFound EmptyReason = iota
	NoCards
)

// Resolution is the outcome of resolving a dataset, mode and index to a
// concrete card.
type Resolution struct {
	State  State
	Reason EmptyReason // set when State is StateEmpty

	Dataset *domain.Dataset // set unless the dataset was not found
	Card    *domain.Card    // set when State is StateValid
	Index   int
	Total   int
}

// Navigator resolves which card a session shows next and keeps learn-mode
// progress up to date.
type Navigator struct {
	db      *storage.DB
	tracker progress.Tracker
}

func New(db *storage.DB, tracker progress.Tracker) *Navigator {
	return &Navigator{db: db, tracker: tracker}
}

// Resolve validates the requested index against the mode's card list and
// returns the card to display. In learn mode the validated index is
// persisted; an out-of-bounds index is never written.
func (n *Navigator) Resolve(ctx context.Context, datasetID int64, mode Mode, index int) (*Resolution, error) {
	dataset, err := n.db.DatasetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if dataset == nil {
		return &Resolution{State: StateEmpty, Reason: DatasetNotFound}, nil
	}

	cards, err := n.cardList(ctx, datasetID, mode)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return &Resolution{State: StateEmpty, Reason: NoCards, Dataset: dataset}, nil
	}

	if index < 0 || index >= len(cards) {
		return &Resolution{State: StateRedirect, Dataset: dataset, Index: 0, Total: len(cards)}, nil
	}

	if mode == ModeLearn {
		if err := n.tracker.SetLastIndex(datasetID, index); err != nil {
			slog.Warn("Failed to save progress", "dataset_id", datasetID, "index", index, "error", err)
		}
	}

	card := cards[index]
	return &Resolution{
		State:   StateValid,
		Dataset: dataset,
		Card:    &card,
		Index:   index,
		Total:   len(cards),
	}, nil
}

// Start opens a session at the deck level. Learn mode resumes from the
// stored index, correcting it to 0 (and writing the correction back) when it
// no longer fits the deck. Review mode always begins at 0 and never consults
// the tracker.
func (n *Navigator) Start(ctx context.Context, datasetID int64, mode Mode) (*Resolution, error) {
	if mode == ModeReview {
		return n.Resolve(ctx, datasetID, mode, 0)
	}

	dataset, err := n.db.DatasetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if dataset == nil {
		return &Resolution{State: StateEmpty, Reason: DatasetNotFound}, nil
	}

	cards, err := n.db.Cards(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return &Resolution{State: StateEmpty, Reason: NoCards, Dataset: dataset}, nil
	}

	last := n.tracker.LastIndex(datasetID)
	if last < 0 || last >= len(cards) {
		slog.Warn("Stored progress index out of bounds, resetting", "dataset_id", datasetID, "index", last, "cards", len(cards))
		last = 0
		if err := n.tracker.SetLastIndex(datasetID, last); err != nil {
			slog.Warn("Failed to save corrected progress", "dataset_id", datasetID, "error", err)
		}
	}

	return n.Resolve(ctx, datasetID, mode, last)
}

func (n *Navigator) cardList(ctx context.Context, datasetID int64, mode Mode) ([]domain.Card, error) {
	switch mode {
	case ModeReview:
		return n.db.ReviewCards(ctx, datasetID)
	case ModeLearn:
		return n.db.Cards(ctx, datasetID)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}
