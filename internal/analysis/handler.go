package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/datachat/internal/models"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Handler serves the HTTP API of the analysis service.
type Handler struct {
	engine   Engine
	maxBytes int64

	logger *slog.Logger
}

// queryResponse is the wire form of a query answer, Visualization is null for text answers.
type queryResponse struct {
	Visualization *string `json:"visualization"`
	Description   string  `json:"description"`
}

const (
	// WelcomeMessage is the body served on the root path.
	WelcomeMessage = "Welcome to the data analysis backend"

	sampleRows          = 5
	defaultMaxBodyBytes = 50 << 20
)

// NewHandler creates a Handler. A non-positive maxBytes selects a 50 MiB upload limit.
func NewHandler(engine Engine, maxBytes int64, logger *slog.Logger) Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return Handler{
		engine:   engine,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("module", "analysis-handler")),
	}
}

// Router returns the routes of the service.
func (h Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.HandleRoot)
	r.Head("/", h.HandleRoot)
	r.Post("/upload-csv", h.HandleUpload)
	r.Post("/query", h.HandleQuery)

	return r
}

// HandleRoot answers liveness probes.
func (h Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": WelcomeMessage})
}

// HandleUpload ingests the CSV file sent as the multipart field "file".
func (h Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	raw, err := readFormFile(r)
	if err != nil {
		h.uploadError(w, err)
		return
	}

	frame, err := h.engine.Upload(r.Context(), raw)
	if err != nil {
		h.uploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.UploadAck{
		Columns: frame.Columns,
		Sample:  frame.Head(sampleRows),
	})
}

// HandleQuery answers the prompt of a models.QueryRequest body.
func (h Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, models.ErrorBody{
			Detail: fmt.Sprintf("Invalid request body: %s", err),
		})
		return
	}

	resp, err := h.engine.Query(r.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("Failed to query",
			slog.String("prompt", req.Prompt),
			slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, models.ErrorBody{Detail: "Error answering the query"})
		return
	}

	res := queryResponse{Description: resp.Description}
	if resp.Visualization != "" {
		res.Visualization = &resp.Visualization
	}
	writeJSON(w, http.StatusOK, res)
}

func (h Handler) uploadError(w http.ResponseWriter, err error) {
	h.logger.Error("Failed to read CSV file", slog.String(errLoggerKey, err.Error()))

	status := http.StatusInternalServerError
	var mbErr *http.MaxBytesError
	if errors.As(err, &mbErr) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, models.ErrorBody{Detail: fmt.Sprintf("Error reading CSV file: %s", err)})
}

func readFormFile(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("failed to get form file: %w", err)
	}
	defer file.Close()

	return io.ReadAll(file)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
