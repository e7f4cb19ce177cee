// Package minutes writes a running transcript of a meeting to Google Docs.
package minutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

// Scopes requested for the credentials.
var Scopes = []string{
	docs.DocumentsScope,
	docs.DriveFileScope,
}

// Errors returned by the writer.
var (
	ErrNoCredentials = errors.New("minutes: credentials file required")
	ErrNoDocument    = errors.New("minutes: document not created")
)

// Config configures a Writer.
type Config struct {
	// CredentialsFile is a service account or authorized user JSON key.
	CredentialsFile string

	// TitleFormat is formatted with the meeting id and start date.
	TitleFormat string

	// Timeout bounds each Docs API call.
	Timeout time.Duration

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	// HTTPClient is used as is, skipping credentials. For tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Option configures a Writer.
type Option func(*Config)

// WithCredentialsFile sets the credentials file.
func WithCredentialsFile(path string) Option {
	return func(c *Config) { c.CredentialsFile = path }
}

// WithTitleFormat sets the document title format.
func WithTitleFormat(format string) Option {
	return func(c *Config) { c.TitleFormat = format }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) Option {
	return func(c *Config) { c.Endpoint = url }
}

// WithHTTPClient sets an already authorized HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TitleFormat: "Meeting %s (%s)",
		Timeout:     30 * time.Second,
		Logger:      slog.Default(),
	}
}

// Writer creates one document per meeting.
type Writer struct {
	service *docs.Service
	config  *Config
	logger  *slog.Logger
}

// NewWriter builds a Docs client from the configured credentials.
func NewWriter(ctx context.Context, opts ...Option) (*Writer, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var clientOpts []option.ClientOption
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		if cfg.CredentialsFile == "" {
			return nil, ErrNoCredentials
		}
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("minutes: read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("minutes: parse credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(oauth2.ReuseTokenSource(nil, creds.TokenSource)))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := docs.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("minutes: create docs service: %w", err)
	}
	return &Writer{
		service: service,
		config:  cfg,
		logger:  cfg.Logger.With("component", "minutes"),
	}, nil
}

// Start creates the document for a meeting.
func (w *Writer) Start(ctx context.Context, meetingID string) (*Minutes, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	now := time.Now()
	title := fmt.Sprintf(w.config.TitleFormat, meetingID, now.Format("January 2, 2006 3:04 PM"))
	doc, err := w.service.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("minutes: create document: %w", err)
	}

	w.logger.Info("minutes document created", "meeting_id", meetingID, "document_id", doc.DocumentId)
	return &Minutes{
		writer:    w,
		meetingID: meetingID,
		docID:     doc.DocumentId,
		now:       time.Now,
	}, nil
}

// Minutes buffers lines for one meeting and appends them to its document
// on Flush.
type Minutes struct {
	writer    *Writer
	meetingID string
	docID     string
	now       func() time.Time

	mu      sync.Mutex
	pending []string
	written int
}

// Record buffers one line.
func (m *Minutes) Record(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := fmt.Sprintf("[%s] %s: %s\n", m.now().Format("15:04:05"), speaker, text)

	m.mu.Lock()
	m.pending = append(m.pending, line)
	m.mu.Unlock()
}

// Flush appends every buffered line to the document. Lines stay buffered
// if the update fails.
func (m *Minutes) Flush(ctx context.Context) error {
	if m.docID == "" {
		return ErrNoDocument
	}

	m.mu.Lock()
	lines := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(lines) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.writer.config.Timeout)
	defer cancel()

	req := &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				EndOfSegmentLocation: &docs.EndOfSegmentLocation{},
				Text:                 strings.Join(lines, ""),
			},
		}},
	}
	if _, err := m.writer.service.Documents.BatchUpdate(m.docID, req).Context(ctx).Do(); err != nil {
		m.mu.Lock()
		m.pending = append(lines, m.pending...)
		m.mu.Unlock()
		return fmt.Errorf("minutes: update document %s: %w", m.docID, err)
	}

	m.mu.Lock()
	m.written += len(lines)
	m.mu.Unlock()
	m.writer.logger.Debug("minutes flushed", "meeting_id", m.meetingID, "lines", len(lines))
	return nil
}

// Pending returns the number of buffered lines.
func (m *Minutes) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Written returns the number of lines appended so far.
func (m *Minutes) Written() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// DocumentID returns the Google Docs id.
func (m *Minutes) DocumentID() string { return m.docID }

// URL returns the link to view the document.
func (m *Minutes) URL() string { return DocURL(m.docID) }

// DocURL returns the URL to view or edit a Google Doc.
func DocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}
