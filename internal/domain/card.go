package domain

// Dataset is a named deck of flashcards, the unit of upload and deletion.
type Dataset struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// Card is one multiple-choice flashcard. Choice5 is nil for four-choice
// cards. The correct answer is stored independently of the choice list.
type Card struct {
	ID            int64   `db:"id"`
	DatasetID     int64   `db:"dataset_id"`
	Question      string  `db:"question"`
	CorrectAnswer string  `db:"correct_answer"`
	Choice1       string  `db:"choice1"`
	Choice2       string  `db:"choice2"`
	Choice3       string  `db:"choice3"`
	Choice4       string  `db:"choice4"`
	Choice5       *string `db:"choice5"`
	Notes         string  `db:"notes"`
	MarkForReview bool    `db:"mark_for_review"`
}

// Choices returns the card's answer choices in stored order, including the
// fifth choice only when present.
func (c Card) Choices() []string {
	choices := []string{c.Choice1, c.Choice2, c.Choice3, c.Choice4}
	if c.Choice5 != nil {
		choices = append(choices, *c.Choice5)
	}
	return choices
}
