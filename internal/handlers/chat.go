package handlers

import (
	"log/slog"
	"net/http"
)

// HandleHome renders the whole page: the conversation, its input and the dataset panel.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := homePageData{
		Chatbox: m.chatbox(m.controller.Snapshot()),
		Dataset: m.currentDatasetPanel(r.Context(), ""),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChats submits the "message" form field to the conversation. The answer arrives asynchronously
// through the SSE stream; the response only carries the chatbox as it is right after the submit, and
// the browser drops it when a newer version already arrived.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The debounced input may lag behind the submitted text.
	message := r.FormValue("message")
	m.controller.UpdateInput(message)
	m.controller.Submit(message, m.datasets.Available())

	m.renderChatbox(w)
}

// HandleInput mirrors the "input" form field into the conversation input buffer.
func (m Main) HandleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.controller.UpdateInput(r.FormValue("input"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear empties the conversation.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.controller.Clear()
	m.renderChatbox(w)
}

// HandleSSE streams the rendered chatbox and dataset panel to the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) renderChatbox(w http.ResponseWriter) {
	if err := m.templates.ExecuteTemplate(w, "chatbox", m.chatbox(m.controller.Snapshot())); err != nil {
		m.logger.Error("Failed to render chatbox", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
