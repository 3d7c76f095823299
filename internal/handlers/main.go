package handlers

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/datachat"
	"github.com/MegaGrindStone/datachat/internal/models"
	"github.com/MegaGrindStone/datachat/internal/session"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Datasets provides the dataset the conversation is about.
type Datasets interface {
	Available() bool
	Current() (models.Dataset, bool)
	Subscribe(fn func(models.Dataset))
	Load(ctx context.Context, name string, r io.Reader) (models.Dataset, error)
	Recent(ctx context.Context) ([]models.DatasetRecord, error)
	Reload(ctx context.Context, id string) (models.Dataset, error)
}

// Main handles the web interface of the conversation. It renders the session snapshots into HTML and
// pushes them to the browsers through server-sent events, so every open page follows the same
// conversation.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	md        goldmark.Markdown

	controller *session.Controller
	datasets   Datasets
	maxUpload  int64

	logger *slog.Logger
}

const (
	chatSSETopic = "chat"

	defaultMaxUpload = 50 << 20
)

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	datasetSSEType  = sse.Type("dataset")
)

// NewMain creates a new Main instance answering with backend about the datasets of ds. opts configure the
// underlying session controller, its observer and logger are set by Main.
func NewMain(backend session.Backend, ds Datasets, maxUpload int64, logger *slog.Logger, opts ...session.Option) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		datachat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, chatSSETopic},
				}, true
			},
		},
		templates: tmpl,
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		datasets:  ds,
		maxUpload: maxUpload,
		logger:    logger.With(slog.String("module", "main")),
	}

	opts = append(opts,
		session.WithLogger(logger),
		session.WithObserver(m.publishSnapshot),
	)
	m.controller = session.NewController(backend, opts...)

	ds.Subscribe(m.publishDataset)

	return m, nil
}

// Shutdown gracefully terminates the Main instance's SSE server. It abandons the conversation, broadcasts
// a close message to all connected clients and waits up to 5 seconds for connections to terminate. After
// the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.controller.Close()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m Main) publishSnapshot(snap models.Snapshot) {
	rendered, err := m.renderTemplate("chatbox", m.chatbox(snap))
	if err != nil {
		m.logger.Error("Failed to render chatbox", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: messagesSSEType}
	msg.AppendData(rendered)
	if err := m.sseSrv.Publish(&msg, chatSSETopic); err != nil {
		m.logger.Error("Failed to publish chatbox", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishDataset(ds models.Dataset) {
	rendered, err := m.renderTemplate("dataset", m.datasetPanel(context.Background(), &ds, ""))
	if err != nil {
		m.logger.Error("Failed to render dataset", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: datasetSSEType}
	msg.AppendData(rendered)
	if err := m.sseSrv.Publish(&msg, chatSSETopic); err != nil {
		m.logger.Error("Failed to publish dataset", slog.String(errLoggerKey, err.Error()))
	}
}

const errLoggerKey = "err"
