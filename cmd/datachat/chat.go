package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/MegaGrindStone/datachat/internal/dataset"
	"github.com/MegaGrindStone/datachat/internal/models"
	"github.com/MegaGrindStone/datachat/internal/session"
	"github.com/spf13/cobra"
)

type conversation interface {
	Submit(rawInput string, datasetAvailable bool) *session.Request
	Snapshot() models.Snapshot
	Clear()
}

type datasets interface {
	Available() bool
	Load(ctx context.Context, name string, r io.Reader) (models.Dataset, error)
	Recent(ctx context.Context) ([]models.DatasetRecord, error)
	Reload(ctx context.Context, id string) (models.Dataset, error)
}

// shell is the terminal presentation of a conversation.
type shell struct {
	conv     conversation
	datasets datasets
	in       io.Reader
	out      io.Writer
}

const (
	chatPrompt = "datachat> "
	// maxLineBytes bounds a single line of input, pasted prompts included.
	maxLineBytes = 1 << 20

	chatHelp = `Commands:
  /load <file.csv>  upload a dataset
  /datasets         list the datasets uploaded before
  /reload <id>      upload a listed dataset again
  /clear            empty the conversation
  /quit             leave`
)

func runChat(cmd *cobra.Command, _ []string) error {
	logFile, err := os.CreateTemp("", "datachat-*.log")
	if err != nil {
		return fmt.Errorf("error creating log file: %w", err)
	}
	defer logFile.Close()

	a, err := newApp(logFile)
	if err != nil {
		return err
	}
	defer a.db.Close()

	opts := append(a.cfg.sessionOptions(), session.WithLogger(a.logger))
	controller := session.NewController(a.backend, opts...)
	defer controller.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s, logs are written to %s\n", a.cfg.BackendURL, logFile.Name())

	s := shell{
		conv:     controller,
		datasets: a.datasets,
		in:       cmd.InOrStdin(),
		out:      cmd.OutOrStdout(),
	}
	return s.run(ctx)
}

// run reads lines until the input ends, ctx is done or the user quits.
func (s shell) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(s.out, chatPrompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("error reading input: %w", err)
					}
				default:
				}
				return nil
			}
			line = strings.TrimSpace(l)
		}

		quit, err := s.handle(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (s shell) handle(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/clear":
		s.conv.Clear()
		fmt.Fprintln(s.out, "Conversation cleared.")
	case "/load":
		s.load(ctx, arg)
	case "/datasets":
		s.listDatasets(ctx)
	case "/reload":
		s.reload(ctx, arg)
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	default:
		return false, s.submit(ctx, line)
	}
	return false, nil
}

func (s shell) submit(ctx context.Context, line string) error {
	req := s.conv.Submit(line, s.datasets.Available())
	select {
	case <-req.Done():
	default:
		fmt.Fprintln(s.out, session.MessagePending)
	}

	outcome, err := req.Wait(ctx)
	if err != nil {
		// Interrupted, the answer is discarded once it arrives.
		return nil
	}
	if outcome == session.OutcomeIgnored || outcome == session.OutcomeDiscarded {
		return nil
	}

	history := s.conv.Snapshot().History
	if len(history) == 0 {
		return nil
	}
	s.printEntry(history[len(history)-1])
	return nil
}

func (s shell) printEntry(e models.ChatEntry) {
	if e.Kind != models.KindChart {
		fmt.Fprintln(s.out, e.Content)
		return
	}

	if e.Caption != "" {
		fmt.Fprintln(s.out, e.Caption)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(e.Content), "", "  "); err != nil {
		fmt.Fprintln(s.out, e.Content)
		return
	}
	fmt.Fprintln(s.out, buf.String())
}

func (s shell) load(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, "Usage: /load <file.csv>")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(s.out, "Error opening %s: %v\n", path, err)
		return
	}
	defer f.Close()

	ds, err := s.datasets.Load(ctx, filepath.Base(path), f)
	if err != nil {
		fmt.Fprintln(s.out, dataset.UserMessage(err))
		return
	}
	s.printDataset(ds)
}

func (s shell) reload(ctx context.Context, id string) {
	if id == "" {
		fmt.Fprintln(s.out, "Usage: /reload <id>")
		return
	}

	ds, err := s.datasets.Reload(ctx, id)
	if err != nil {
		fmt.Fprintln(s.out, dataset.UserMessage(err))
		return
	}
	s.printDataset(ds)
}

func (s shell) listDatasets(ctx context.Context) {
	records, err := s.datasets.Recent(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Error listing datasets: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Fprintln(s.out, "No datasets uploaded yet.")
		return
	}

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tUPLOADED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Size, r.UploadedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func (s shell) printDataset(ds models.Dataset) {
	fmt.Fprintf(s.out, "Loaded %s: %d columns, %d rows\n", ds.Name, len(ds.Columns), len(ds.Rows))

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(ds.Columns, "\t"))
	for _, row := range ds.Preview {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}
