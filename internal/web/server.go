package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thevivotran/studytest/internal/decksync"
	"github.com/thevivotran/studytest/internal/importer"
	"github.com/thevivotran/studytest/internal/progress"
	"github.com/thevivotran/studytest/internal/session"
	"github.com/thevivotran/studytest/internal/storage"
)

//go:embed all:static
var staticFiles embed.FS

//go:embed all:templates
var templateFiles embed.FS

const maxUploadBytes = 10 << 20

// Server holds the dependencies for the HTTP server.
type Server struct {
	db        *storage.DB
	importer  *importer.Importer
	navigator *session.Navigator
	tracker   progress.Tracker
	syncer    *decksync.Runner
	router    *http.ServeMux
	templates *template.Template
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, imp *importer.Importer, nav *session.Navigator, tracker progress.Tracker, syncer *decksync.Runner) *Server {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		log.Fatalf("Failed to parse templates: %v", err)
	}

	s := &Server{
		db:        db,
		importer:  imp,
		navigator: nav,
		tracker:   tracker,
		syncer:    syncer,
		router:    http.NewServeMux(),
		templates: tpl,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("Failed to create sub-filesystem for static assets: %v", err)
	}
	s.router.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	s.router.HandleFunc("/", s.handleIndex)
	s.router.HandleFunc("/upload", s.handleUpload)
	s.router.HandleFunc("/learn/", s.handleLearn)
	s.router.HandleFunc("/review/", s.handleReview)
	s.router.HandleFunc("/cards/", s.handleCards)
	s.router.HandleFunc("/datasets/", s.handleDeleteDataset)
	s.router.HandleFunc("/sources", s.handleSources)
	s.router.HandleFunc("/sources/", s.handleDeleteSource)
	s.router.HandleFunc("/sync", s.handlePostSync)
}

// flash redirects back to the index with a one-shot message carried in the
// query string.
func (s *Server) flash(w http.ResponseWriter, r *http.Request, kind, msg string) {
	http.Redirect(w, r, "/?kind="+kind+"&flash="+url.QueryEscape(msg), http.StatusSeeOther)
}

// handleIndex renders the dataset list and upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	datasets, err := s.db.Datasets(r.Context())
	if err != nil {
		slog.Error("Error listing datasets", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Datasets":  datasets,
		"Flash":     r.URL.Query().Get("flash"),
		"FlashKind": r.URL.Query().Get("kind"),
	}
	s.templates.ExecuteTemplate(w, "index", data)
}

// handleUpload parses the uploaded CSV and creates a dataset from it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.flash(w, r, "danger", "Failed to read upload.")
		return
	}

	file, header, err := r.FormFile("csv_file")
	if err != nil {
		s.flash(w, r, "danger", "No file selected for uploading.")
		return
	}
	defer file.Close()

	name := r.FormValue("dataset_name")

	// The .csv requirement lives here at the upload boundary; the importer
	// only sees raw bytes.
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.flash(w, r, "danger", "Invalid file type. Only .csv files are allowed.")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		s.flash(w, r, "danger", "Failed to read uploaded file.")
		return
	}

	report, err := s.importer.Import(r.Context(), name, content)
	if err != nil {
		s.flash(w, r, "danger", importErrorMessage(err))
		return
	}

	s.flash(w, r, "success", fmt.Sprintf("Successfully uploaded dataset %q with %d cards.", strings.TrimSpace(name), report.CardsAdded))
}

func importErrorMessage(err error) string {
	var malformed *importer.MalformedRowError
	var missing *importer.MissingFieldError
	var insert *importer.InsertError

	switch {
	case errors.Is(err, importer.ErrEmptyName):
		return "Dataset name cannot be empty."
	case errors.Is(err, importer.ErrDuplicateName):
		return "Dataset name already exists. Please choose a unique name."
	case errors.Is(err, importer.ErrEncoding):
		return "Error decoding file. Please ensure the file is UTF-8 encoded."
	case errors.Is(err, importer.ErrEmptyImport):
		return "CSV file is empty or contains no valid data rows."
	case errors.As(err, &malformed):
		return fmt.Sprintf("Incorrect number of columns (%d) on line %d. Expected 6 or 7.", malformed.Fields, malformed.Line)
	case errors.As(err, &missing):
		return fmt.Sprintf("Missing required data (question, answer, or choices 1-4) on line %d.", missing.Line)
	case errors.As(err, &insert):
		return fmt.Sprintf("Error storing card from line %d. The dataset was only partially imported.", insert.Line)
	default:
		slog.Error("Unexpected import error", "error", err)
		return "An unexpected error occurred during upload."
	}
}

// handleLearn resumes a learn session from the stored progress index.
func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/learn/"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid dataset ID", http.StatusBadRequest)
		return
	}
	s.startSession(w, r, id, session.ModeLearn)
}

// handleReview starts a review session over the flagged cards.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/review/"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid dataset ID", http.StatusBadRequest)
		return
	}
	s.startSession(w, r, id, session.ModeReview)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, datasetID int64, mode session.Mode) {
	res, err := s.navigator.Start(r.Context(), datasetID, mode)
	if err != nil {
		slog.Error("Error starting session", "dataset_id", datasetID, "mode", mode, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	switch res.State {
	case session.StateEmpty:
		if res.Reason == session.DatasetNotFound {
			s.flash(w, r, "danger", fmt.Sprintf("Dataset %d not found.", datasetID))
		} else if mode == session.ModeReview {
			s.flash(w, r, "info", fmt.Sprintf("No cards marked for review in dataset %q.", res.Dataset.Name))
		} else {
			s.flash(w, r, "warning", fmt.Sprintf("Dataset %q is empty.", res.Dataset.Name))
		}
	case session.StateRedirect:
		http.Redirect(w, r, cardURL(datasetID, 0, mode), http.StatusSeeOther)
	default:
		http.Redirect(w, r, cardURL(datasetID, res.Index, mode), http.StatusSeeOther)
	}
}

func cardURL(datasetID int64, index int, mode session.Mode) string {
	return fmt.Sprintf("/cards/%d/%d?mode=%s", datasetID, index, mode)
}

// handleCards dispatches /cards/{dataset}/{index} card views and the
// /cards/{card}/notes and /cards/{card}/review JSON endpoints.
func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/cards/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodPost {
		switch parts[1] {
		case "notes":
			s.handleUpdateNotes(w, r, id)
		case "review":
			s.handleToggleReview(w, r, id)
		default:
			http.NotFound(w, r)
		}
		return
	}

	index, err := strconv.Atoi(parts[1])
	if err != nil {
		http.Error(w, "Invalid card index", http.StatusBadRequest)
		return
	}
	s.handleShowCard(w, r, id, index)
}

// handleShowCard resolves and renders one card of a session.
func (s *Server) handleShowCard(w http.ResponseWriter, r *http.Request, datasetID int64, index int) {
	mode := session.ParseMode(r.URL.Query().Get("mode"))

	res, err := s.navigator.Resolve(r.Context(), datasetID, mode, index)
	if err != nil {
		slog.Error("Error resolving card", "dataset_id", datasetID, "mode", mode, "index", index, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	switch res.State {
	case session.StateEmpty:
		if res.Reason == session.DatasetNotFound {
			s.flash(w, r, "danger", fmt.Sprintf("Dataset %d not found.", datasetID))
		} else if mode == session.ModeReview {
			s.flash(w, r, "info", fmt.Sprintf("No cards marked for review in dataset %q.", res.Dataset.Name))
		} else {
			s.flash(w, r, "warning", fmt.Sprintf("Dataset %q is empty.", res.Dataset.Name))
		}
		return
	case session.StateRedirect:
		http.Redirect(w, r, cardURL(datasetID, 0, mode), http.StatusSeeOther)
		return
	}

	// Display order is random; every stored non-empty choice is present.
	choices := res.Card.Choices()
	rand.Shuffle(len(choices), func(i, j int) {
		choices[i], choices[j] = choices[j], choices[i]
	})

	data := map[string]interface{}{
		"Card":        res.Card,
		"DatasetID":   datasetID,
		"DatasetName": res.Dataset.Name,
		"Index":       res.Index,
		"Total":       res.Total,
		"Mode":        string(mode),
		"Choices":     choices,
		"HasPrev":     res.Index > 0,
		"HasNext":     res.Index < res.Total-1,
		"PrevIndex":   res.Index - 1,
		"NextIndex":   res.Index + 1,
		"IsReview":    mode == session.ModeReview,
	}
	s.templates.ExecuteTemplate(w, "card", data)
}

// handleDeleteDataset removes a dataset and its progress entry.
func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/datasets/"), "/delete")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid dataset ID", http.StatusBadRequest)
		return
	}

	deleted, err := s.db.DeleteDataset(r.Context(), id)
	if err != nil {
		slog.Error("Error deleting dataset", "dataset_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		s.flash(w, r, "danger", fmt.Sprintf("Error deleting dataset %d. It might not exist.", id))
		return
	}

	// Progress cleanup failure is a warning, never a rollback.
	if err := s.tracker.Delete(id); err != nil {
		slog.Warn("Dataset deleted but progress cleanup failed", "dataset_id", id, "error", err)
		s.flash(w, r, "warning", "Dataset deleted, but failed to update progress file.")
		return
	}
	s.flash(w, r, "success", fmt.Sprintf("Dataset %d deleted successfully.", id))
}

// handleUpdateNotes replaces a card's notes. Accepts JSON {"notes": ...} or
// a form field.
func (s *Server) handleUpdateNotes(w http.ResponseWriter, r *http.Request, cardID int64) {
	var notes string
	var found bool

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Notes *string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Notes != nil {
			notes = *body.Notes
			found = true
		}
	} else if err := r.ParseForm(); err == nil && r.PostForm.Has("notes") {
		notes = r.PostFormValue("notes")
		found = true
	}

	if !found {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Missing notes data"})
		return
	}

	ok, err := s.db.UpdateNotes(r.Context(), cardID, notes)
	if err != nil {
		slog.Error("Error updating notes", "card_id", cardID, "error", err)
	}
	if err != nil || !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Failed to update notes in database"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleToggleReview flips a card's review flag.
func (s *Server) handleToggleReview(w http.ResponseWriter, r *http.Request, cardID int64) {
	ok, err := s.db.ToggleReview(r.Context(), cardID)
	if err != nil {
		slog.Error("Error toggling review flag", "card_id", cardID, "error", err)
	}
	if err != nil || !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Failed to toggle review status"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// handleSources handles both GET and POST for the deck sources page.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetSources(w, r)
	case http.MethodPost:
		s.handlePostSource(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.Sources(r.Context())
	if err != nil {
		slog.Error("Error listing sources", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data := map[string]interface{}{
		"Sources": sources,
	}
	s.templates.ExecuteTemplate(w, "sources", data)
}

func (s *Server) handlePostSource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.PostFormValue("path"))
	if path == "" {
		http.Error(w, "Path cannot be empty", http.StatusBadRequest)
		return
	}

	if _, err := s.db.InsertSource(r.Context(), path, decksync.DetectKind(path)); err != nil {
		slog.Error("Error inserting source", "path", path, "error", err)
		http.Error(w, "Failed to add source", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/sources", http.StatusSeeOther)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/sources/"), "/delete")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid source ID", http.StatusBadRequest)
		return
	}

	if _, err := s.db.DeleteSource(r.Context(), id); err != nil {
		slog.Error("Error deleting source", "source_id", id, "error", err)
		http.Error(w, "Failed to delete source", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/sources", http.StatusSeeOther)
}

// handlePostSync triggers a manual deck source sync in the foreground.
func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.syncer.Run(r.Context()); err != nil {
		slog.Error("Deck sync failed", "error", err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/sources", http.StatusSeeOther)
}
