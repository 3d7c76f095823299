package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/datachat/internal/dataset"
)

// HandleDatasets loads the CSV file sent as the multipart field "file" and renders the dataset panel. A
// rejected file keeps the previous dataset, the panel then carries the reason.
func (m Main) HandleDatasets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.maxUpload+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		m.logger.Warn("Failed to get uploaded file", slog.String(errLoggerKey, err.Error()))
		m.renderDataset(w, r, http.StatusBadRequest, "Please choose a CSV file to upload.")
		return
	}
	defer file.Close()

	if _, err := m.datasets.Load(r.Context(), header.Filename, file); err != nil {
		m.logger.Error("Failed to load dataset",
			slog.String("name", header.Filename),
			slog.String(errLoggerKey, err.Error()))
		m.renderDataset(w, r, datasetErrorStatus(err), dataset.UserMessage(err))
		return
	}

	m.renderDataset(w, r, http.StatusOK, "")
}

// HandleReload makes the stored dataset named by the "id" form field current again.
func (m Main) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("id")
	if id == "" {
		m.renderDataset(w, r, http.StatusBadRequest, "Please choose a dataset.")
		return
	}

	if _, err := m.datasets.Reload(r.Context(), id); err != nil {
		m.logger.Error("Failed to reload dataset",
			slog.String("id", id),
			slog.String(errLoggerKey, err.Error()))
		m.renderDataset(w, r, datasetErrorStatus(err), dataset.UserMessage(err))
		return
	}

	m.renderDataset(w, r, http.StatusOK, "")
}

func datasetErrorStatus(err error) int {
	switch {
	case errors.Is(err, dataset.ErrUpload):
		return http.StatusBadGateway
	case errors.Is(err, dataset.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func (m Main) renderDataset(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	html, err := m.renderTemplate("dataset", m.currentDatasetPanel(r.Context(), errMsg))
	if err != nil {
		m.logger.Error("Failed to render dataset", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(html))
}
