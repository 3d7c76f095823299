package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/datachat/internal/models"
)

// AnalysisClient talks to the analysis service over HTTP. It implements the query backend of the session
// controller and the uploader of the dataset provider.
type AnalysisClient struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

const (
	queryPath  = "/query"
	uploadPath = "/upload-csv"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 32 << 20
)

// NewAnalysisClient creates a new AnalysisClient for the service at baseURL. A zero timeout leaves requests
// unbounded, callers may still bound them through their context.
func NewAnalysisClient(baseURL string, timeout time.Duration, logger *slog.Logger) AnalysisClient {
	return AnalysisClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("module", "analysis-client")),
	}
}

// Query sends prompt to the analysis service. A non-success status yields a *models.APIError, a body that
// can't be decoded yields an error wrapping models.ErrMalformedResponse.
func (a AnalysisClient) Query(ctx context.Context, prompt string) (models.QueryResponse, error) {
	jsonBody, err := json.Marshal(models.QueryRequest{Prompt: prompt})
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+queryPath, bytes.NewReader(jsonBody))
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := a.do(req)
	if err != nil {
		return models.QueryResponse{}, err
	}

	var res models.QueryResponse
	if err := json.Unmarshal(body, &res); err != nil {
		a.logger.Error("Failed to decode query response",
			slog.String("body", string(body)),
			slog.String(errLoggerKey, err.Error()))
		return models.QueryResponse{}, fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
	}

	a.logger.Debug("Query answered",
		slog.Bool("visualization", res.Visualization != ""),
		slog.Int("descriptionLength", len(res.Description)))

	return res, nil
}

// UploadCSV sends the raw content of a CSV file to the analysis service, as the multipart field "file".
func (a AnalysisClient) UploadCSV(ctx context.Context, name string, data []byte) (models.UploadAck, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return models.UploadAck{}, fmt.Errorf("error creating form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return models.UploadAck{}, fmt.Errorf("error writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.UploadAck{}, fmt.Errorf("error closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+uploadPath, &buf)
	if err != nil {
		return models.UploadAck{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := a.do(req)
	if err != nil {
		return models.UploadAck{}, err
	}

	var ack models.UploadAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return models.UploadAck{}, fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
	}

	a.logger.Info("Dataset uploaded", slog.String("name", name), slog.Int("columns", len(ack.Columns)))

	return ack, nil
}

func (a AnalysisClient) do(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &models.APIError{StatusCode: resp.StatusCode}
		var eb models.ErrorBody
		if err := json.Unmarshal(body, &eb); err == nil {
			apiErr.Detail = eb.Detail
		}
		a.logger.Warn("Unexpected status code",
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, apiErr
	}

	return body, nil
}
