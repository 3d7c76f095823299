package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/datachat/internal/models"
	"github.com/MegaGrindStone/datachat/internal/services"
)

func TestAnalysisClientQuery(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       models.QueryResponse
		wantDetail string
		wantStatus int
		wantErr    error
	}{
		{
			name:   "Text answer",
			status: http.StatusOK,
			body:   `{"visualization":null,"description":"X"}`,
			want:   models.QueryResponse{Description: "X"},
		},
		{
			name:   "Chart answer",
			status: http.StatusOK,
			body:   `{"visualization":"{\"mark\":\"bar\"}","description":"Y"}`,
			want:   models.QueryResponse{Visualization: `{"mark":"bar"}`, Description: "Y"},
		},
		{
			name:       "Server detail",
			status:     http.StatusInternalServerError,
			body:       `{"detail":"bad prompt"}`,
			wantStatus: http.StatusInternalServerError,
			wantDetail: "bad prompt",
		},
		{
			name:       "Server without body",
			status:     http.StatusBadGateway,
			body:       `Bad Gateway`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:    "Malformed body",
			status:  http.StatusOK,
			body:    `<html></html>`,
			wantErr: models.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPrompt string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/query" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var req models.QueryRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				gotPrompt = req.Prompt
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := services.NewAnalysisClient(srv.URL+"/", time.Second, slog.Default())
			got, err := client.Query(context.Background(), "show sales")

			if gotPrompt != "show sales" {
				t.Errorf("server received prompt %q, want %q", gotPrompt, "show sales")
			}

			switch {
			case tt.wantStatus != 0:
				var apiErr *models.APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("Query() error = %v, want *models.APIError", err)
				}
				if apiErr.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.wantStatus)
				}
				if apiErr.Detail != tt.wantDetail {
					t.Errorf("Detail = %q, want %q", apiErr.Detail, tt.wantDetail)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Query() error = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("Query() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Query() = %+v, want %+v", got, tt.want)
				}
			}
		})
	}
}

func TestAnalysisClientQueryUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := services.NewAnalysisClient(url, time.Second, slog.Default())
	_, err := client.Query(context.Background(), "show sales")
	if err == nil {
		t.Fatal("Query() error = nil, want error")
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("Query() error = %v, want a transport error", err)
	}
}

func TestAnalysisClientUploadCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-csv" {
			t.Errorf("path = %q, want /upload-csv", r.URL.Path)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()

		content, _ := io.ReadAll(f)
		if header.Filename != "sales.csv" {
			t.Errorf("filename = %q, want sales.csv", header.Filename)
		}
		if string(content) != "region,sales\nnorth,10\n" {
			t.Errorf("content = %q", content)
		}

		_, _ = io.WriteString(w, `{"columns":["region","sales"],"sample":[{"region":"north","sales":10}]}`)
	}))
	defer srv.Close()

	client := services.NewAnalysisClient(srv.URL, time.Second, slog.Default())
	ack, err := client.UploadCSV(context.Background(), "sales.csv", []byte("region,sales\nnorth,10\n"))
	if err != nil {
		t.Fatalf("UploadCSV() error = %v", err)
	}
	if len(ack.Columns) != 2 || ack.Columns[1] != "sales" {
		t.Errorf("Columns = %v, want [region sales]", ack.Columns)
	}
	if len(ack.Sample) != 1 {
		t.Errorf("Sample length = %d, want 1", len(ack.Sample))
	}
}
