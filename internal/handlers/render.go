package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/datachat/internal/models"
)

type entryView struct {
	ID        string
	Role      string
	Kind      string
	Content   template.HTML
	Spec      string
	Caption   string
	Timestamp time.Time
}

type chatboxView struct {
	Entries  []entryView
	Input    string
	Awaiting bool
	Version  uint64
}

type datasetView struct {
	Name    string
	Columns []string
	Preview [][]string
	Rows    int
	Recent  []models.DatasetRecord
	Error   string
}

type homePageData struct {
	Chatbox chatboxView
	Dataset datasetView
}

var templateFuncs = template.FuncMap{
	"timeFormat": func(t time.Time) string {
		return t.Format("15:04")
	},
	"byteSize": func(n int) string {
		switch {
		case n >= 1<<20:
			return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
		case n >= 1<<10:
			return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
		default:
			return fmt.Sprintf("%d B", n)
		}
	},
}

func (m Main) chatbox(snap models.Snapshot) chatboxView {
	entries := make([]entryView, len(snap.History))
	for i, e := range snap.History {
		entries[i] = m.entry(e)
	}
	return chatboxView{
		Entries:  entries,
		Input:    snap.Input,
		Awaiting: snap.AwaitingResponse(),
		Version:  snap.Version,
	}
}

func (m Main) entry(e models.ChatEntry) entryView {
	res := entryView{
		ID:        e.ID,
		Role:      string(e.Role),
		Kind:      string(e.Kind),
		Caption:   e.Caption,
		Timestamp: e.Timestamp,
	}

	switch {
	case e.Kind == models.KindChart:
		res.Spec = e.Content
	case e.Role == models.RoleBot && e.Kind == models.KindText:
		res.Content = m.markdown(e.Content)
	default:
		res.Content = template.HTML(template.HTMLEscapeString(e.Content))
	}
	return res
}

// markdown renders bot text. Raw HTML in the source is omitted by the renderer.
func (m Main) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		m.logger.Warn("Failed to render markdown", slog.String(errLoggerKey, err.Error()))
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func (m Main) datasetPanel(ctx context.Context, ds *models.Dataset, errMsg string) datasetView {
	var panel datasetView
	if ds != nil {
		panel.Name = ds.Name
		panel.Columns = ds.Columns
		panel.Preview = ds.Preview
		panel.Rows = len(ds.Rows)
	}
	panel.Error = errMsg

	recent, err := m.datasets.Recent(ctx)
	if err != nil {
		m.logger.Error("Failed to list recent datasets", slog.String(errLoggerKey, err.Error()))
	}
	panel.Recent = recent

	return panel
}

func (m Main) currentDatasetPanel(ctx context.Context, errMsg string) datasetView {
	ds, ok := m.datasets.Current()
	if !ok {
		return m.datasetPanel(ctx, nil, errMsg)
	}
	return m.datasetPanel(ctx, &ds, errMsg)
}

func (m Main) renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
