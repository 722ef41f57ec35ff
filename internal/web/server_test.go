package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thevivotran/studytest/internal/decksync"
	"github.com/thevivotran/studytest/internal/domain"
	"github.com/thevivotran/studytest/internal/importer"
	"github.com/thevivotran/studytest/internal/progress"
	"github.com/thevivotran/studytest/internal/session"
	"github.com/thevivotran/studytest/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.DB, *progress.MemoryTracker) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker := progress.NewMemoryTracker()
	imp := importer.New(db)
	nav := session.New(db, tracker)
	syncer := decksync.New(db, imp, filepath.Join(t.TempDir(), "repos"))
	return NewServer(db, imp, nav, tracker, syncer), db, tracker
}

func seedDataset(t *testing.T, db *storage.DB, name string, questions ...string) (int64, []int64) {
	t.Helper()
	ctx := context.Background()

	id, err := db.CreateDataset(ctx, name)
	require.NoError(t, err)
	cardIDs := make([]int64, 0, len(questions))
	for _, q := range questions {
		cardID, err := db.AddCard(ctx, id, domain.Card{
			Question:      q,
			CorrectAnswer: "a",
			Choice1:       "a",
			Choice2:       "b",
			Choice3:       "c",
			Choice4:       "d",
		})
		require.NoError(t, err)
		cardIDs = append(cardIDs, cardID)
	}
	return id, cardIDs
}

func multipartUpload(t *testing.T, datasetName, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("dataset_name", datasetName))
	part, err := w.CreateFormFile("csv_file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandleIndex(t *testing.T) {
	srv, db, _ := newTestServer(t)
	seedDataset(t, db, "Geo", "q1")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Geo")
}

func TestHandleUpload_CreatesDataset(t *testing.T) {
	srv, db, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartUpload(t, "Geo", "deck.csv", "Capital?,Paris,London,Berlin,Paris,Madrid\n"))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "kind=success")

	id, err := db.DatasetIDByName(context.Background(), "Geo")
	require.NoError(t, err)
	require.NotZero(t, id)

	cards, err := db.Cards(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestHandleUpload_RejectsNonCSVExtension(t *testing.T) {
	srv, db, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartUpload(t, "Geo", "deck.xlsx", "Capital?,Paris,London,Berlin,Paris,Madrid\n"))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "kind=danger")

	id, err := db.DatasetIDByName(context.Background(), "Geo")
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestHandleUpload_MalformedRowFlashesError(t *testing.T) {
	srv, db, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartUpload(t, "Geo", "deck.csv", "only,three,fields\n"))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "kind=danger")

	datasets, err := db.Datasets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, datasets)
}

func TestHandleLearn_RedirectsToStoredIndex(t *testing.T) {
	srv, db, tracker := newTestServer(t)
	id, _ := seedDataset(t, db, "Geo", "q1", "q2", "q3")
	require.NoError(t, tracker.SetLastIndex(id, 2))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/learn/%d", id), nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, fmt.Sprintf("/cards/%d/2?mode=learn", id), rec.Header().Get("Location"))
}

func TestHandleShowCard_OutOfRangeRedirectsToZero(t *testing.T) {
	srv, db, _ := newTestServer(t)
	id, _ := seedDataset(t, db, "Geo", "q1", "q2")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/cards/%d/9?mode=learn", id), nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, fmt.Sprintf("/cards/%d/0?mode=learn", id), rec.Header().Get("Location"))
}

func TestHandleShowCard_RendersCardAndChoices(t *testing.T) {
	srv, db, tracker := newTestServer(t)
	id, _ := seedDataset(t, db, "Geo", "q1", "q2")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/cards/%d/1?mode=learn", id), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "q2")

	// Viewing a card in learn mode persists the position.
	assert.Equal(t, 1, tracker.LastIndex(id))
}

func TestHandleReview_NoFlaggedCardsFlashesInfo(t *testing.T) {
	srv, db, _ := newTestServer(t)
	id, _ := seedDataset(t, db, "Geo", "q1")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/review/%d", id), nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "kind=info")
}

func TestHandleUpdateNotes(t *testing.T) {
	srv, db, _ := newTestServer(t)
	id, cardIDs := seedDataset(t, db, "Geo", "q1")

	body, err := json.Marshal(map[string]string{"notes": "tricky one"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/cards/%d/notes", cardIDs[0]), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "success")

	cards, err := db.Cards(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "tricky one", cards[0].Notes)
}

func TestHandleUpdateNotes_MissingPayload(t *testing.T) {
	srv, db, _ := newTestServer(t)
	_, cardIDs := seedDataset(t, db, "Geo", "q1")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/cards/%d/notes", cardIDs[0]), strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleToggleReview(t *testing.T) {
	srv, db, _ := newTestServer(t)
	id, cardIDs := seedDataset(t, db, "Geo", "q1")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/cards/%d/review", cardIDs[0]), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cards, err := db.Cards(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cards[0].MarkForReview)
}

func TestHandleToggleReview_MissingCard(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cards/9999/review", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleDeleteDataset_DropsProgress(t *testing.T) {
	srv, db, tracker := newTestServer(t)
	id, _ := seedDataset(t, db, "Geo", "q1")
	require.NoError(t, tracker.SetLastIndex(id, 0))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/datasets/%d/delete", id), nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "kind=success")

	ds, err := db.DatasetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, ds)
	assert.Equal(t, 0, tracker.LastIndex(id))
}

func TestHandleDeleteDataset_MissingDatasetLeavesProgressAlone(t *testing.T) {
	srv, _, tracker := newTestServer(t)
	require.NoError(t, tracker.SetLastIndex(7, 3))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/datasets/9999/delete", nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "kind=danger")
	assert.Equal(t, 3, tracker.LastIndex(7))
}

func TestHandleSources_AddAndList(t *testing.T) {
	srv, db, _ := newTestServer(t)

	form := strings.NewReader("path=" + t.TempDir())
	req := httptest.NewRequest(http.MethodPost, "/sources", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	sources, err := db.Sources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, decksync.KindLocal, sources[0].Kind)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sources[0].Path)
}
