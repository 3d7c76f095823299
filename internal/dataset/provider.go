package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/datachat/internal/models"
	"github.com/google/uuid"
)

// Uploader ingests the raw content of a dataset into the analysis service.
type Uploader interface {
	UploadCSV(ctx context.Context, name string, data []byte) (models.UploadAck, error)
}

// Store keeps the uploaded datasets, so they can be loaded again later.
type Store interface {
	SaveDataset(ctx context.Context, record models.DatasetRecord) (string, error)
	Datasets(ctx context.Context) ([]models.DatasetRecord, error)
	Dataset(ctx context.Context, id string) (models.DatasetRecord, error)
}

// Provider owns the dataset currently loaded by the client. Its availability is read by the session
// controller through Available, and pushed to subscribers whenever a new dataset is loaded.
type Provider struct {
	uploader Uploader
	store    Store
	maxBytes int64

	logger *slog.Logger

	mu          sync.RWMutex
	current     *models.Dataset
	subscribers []func(models.Dataset)
}

const (
	// PreviewRows is the number of leading rows kept for display.
	PreviewRows = 10

	defaultMaxBytes = 50 << 20
)

var (
	// ErrNotCSV is returned for files that don't carry the .csv extension.
	ErrNotCSV = errors.New("not a csv file")
	// ErrEmpty is returned for files without a header row.
	ErrEmpty = errors.New("empty csv file")
	// ErrTooLarge is returned for files larger than the configured limit.
	ErrTooLarge = errors.New("csv file too large")
	// ErrUpload is returned when the analysis service refused or didn't receive the dataset.
	ErrUpload = errors.New("failed to upload dataset")
)

// NewProvider creates a Provider without a dataset. A non-positive maxBytes selects a 50 MiB limit.
func NewProvider(uploader Uploader, store Store, maxBytes int64, logger *slog.Logger) *Provider {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Provider{
		uploader: uploader,
		store:    store,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("module", "dataset")),
	}
}

// Available reports whether a dataset is currently loaded.
func (p *Provider) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.current != nil
}

// Current returns the loaded dataset, if any.
func (p *Provider) Current() (models.Dataset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return models.Dataset{}, false
	}
	return *p.current, true
}

// Subscribe registers fn to be called with every newly loaded dataset.
func (p *Provider) Subscribe(fn func(models.Dataset)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers = append(p.subscribers, fn)
}

// Load parses the CSV file read from r, ingests it into the analysis service and makes it the current
// dataset. On failure the previously loaded dataset stays current.
func (p *Provider) Load(ctx context.Context, name string, r io.Reader) (models.Dataset, error) {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return models.Dataset{}, ErrNotCSV
	}

	raw, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return models.Dataset{}, fmt.Errorf("failed to read dataset: %w", err)
	}
	if int64(len(raw)) > p.maxBytes {
		return models.Dataset{}, ErrTooLarge
	}

	ds, err := p.ingest(ctx, name, raw)
	if err != nil {
		return models.Dataset{}, err
	}

	record := models.DatasetRecord{
		ID:         ds.ID,
		Name:       name,
		Size:       len(raw),
		UploadedAt: time.Now(),
		Raw:        raw,
	}
	if _, err := p.store.SaveDataset(ctx, record); err != nil {
		// The dataset is usable even if it can't be listed later.
		p.logger.Error("Failed to save dataset",
			slog.String("name", name),
			slog.String(errLoggerKey, err.Error()))
	}

	p.setCurrent(ds)
	return ds, nil
}

// Recent lists the datasets loaded before, newest first.
func (p *Provider) Recent(ctx context.Context) ([]models.DatasetRecord, error) {
	records, err := p.store.Datasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return records, nil
}

// Reload ingests a stored dataset again and makes it the current dataset.
func (p *Provider) Reload(ctx context.Context, id string) (models.Dataset, error) {
	record, err := p.store.Dataset(ctx, id)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("failed to get dataset %s: %w", id, err)
	}

	ds, err := p.ingest(ctx, record.Name, record.Raw)
	if err != nil {
		return models.Dataset{}, err
	}

	p.setCurrent(ds)
	return ds, nil
}

func (p *Provider) ingest(ctx context.Context, name string, raw []byte) (models.Dataset, error) {
	ds, err := Parse(name, raw)
	if err != nil {
		return models.Dataset{}, err
	}

	if _, err := p.uploader.UploadCSV(ctx, name, raw); err != nil {
		p.logger.Error("Failed to upload dataset",
			slog.String("name", name),
			slog.String(errLoggerKey, err.Error()))
		return models.Dataset{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	p.logger.Info("Dataset loaded",
		slog.String("name", name),
		slog.Int("columns", len(ds.Columns)),
		slog.Int("rows", len(ds.Rows)))

	return ds, nil
}

func (p *Provider) setCurrent(ds models.Dataset) {
	p.mu.Lock()
	p.current = &ds
	subscribers := slices.Clone(p.subscribers)
	p.mu.Unlock()

	for _, fn := range subscribers {
		fn(ds)
	}
}

// Parse reads a CSV document with a header row into a Dataset. Rows shorter or longer than the header
// are accepted as they are.
func Parse(name string, raw []byte) (models.Dataset, error) {
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return models.Dataset{}, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if len(records) == 0 {
		return models.Dataset{}, ErrEmpty
	}

	rows := records[1:]
	return models.Dataset{
		ID:      uuid.New().String(),
		Name:    name,
		Columns: records[0],
		Rows:    rows,
		Preview: rows[:min(len(rows), PreviewRows)],
	}, nil
}

// UserMessage describes err for display next to the upload control.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotCSV):
		return "Only CSV files are allowed."
	case errors.Is(err, ErrEmpty):
		return "The CSV file is empty."
	case errors.Is(err, ErrTooLarge):
		return "The CSV file is too large."
	case errors.Is(err, ErrUpload):
		return "Error uploading the CSV file."
	default:
		return "Error reading the CSV file."
	}
}

const errLoggerKey = "err"
