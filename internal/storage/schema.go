package storage

const schema = `
-- The 'datasets' table is the unit of upload and deletion.
CREATE TABLE IF NOT EXISTS datasets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL
);

-- The 'cards' table stores one multiple-choice flashcard per row.
-- 'notes' and 'mark_for_review' were added after the first release and are
-- applied to older databases by migrate(), so they are absent here.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    dataset_id INTEGER NOT NULL,
    question TEXT NOT NULL,
    correct_answer TEXT NOT NULL,
    choice1 TEXT NOT NULL,
    choice2 TEXT NOT NULL,
    choice3 TEXT NOT NULL,
    choice4 TEXT NOT NULL,
    choice5 TEXT,

    FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
);

-- The 'sources' table tracks deck sources, either a local directory or a
-- git repository, scanned for CSV decks during sync.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    last_scanned DATETIME
);
`
