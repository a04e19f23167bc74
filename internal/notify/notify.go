// Package notify delivers claim outcome messages to employees and finance.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Audience is who a notification is addressed to
type Audience string

const (
	AudienceEmployee Audience = "employee"
	AudienceFinance  Audience = "finance"
)

var (
	// ErrUnknownSink is returned for a sink name missing from the registry
	ErrUnknownSink = errors.New("unknown notification sink")
)

// Notification is a composed message ready for delivery
type Notification struct {
	ClaimID      string    `json:"claim_id"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	Audience     Audience  `json:"audience"`
	Approved     bool      `json:"approved"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sink delivers notifications somewhere outside the process
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Console writes one line per notification
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console sink writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Deliver(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[%s] %s\n", n.Audience, n.Message); err != nil {
		return fmt.Errorf("writing notification: %w", err)
	}
	return nil
}

// Log records notifications with slog
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log sink; a nil logger uses slog.Default()
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Deliver(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"claim_id", n.ClaimID,
		"employee_id", n.EmployeeID,
		"audience", n.Audience,
		"approved", n.Approved,
		"message", n.Message,
	)
	return nil
}

// File appends notifications as JSON lines, e.g. for a mail relay to pick up
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a File sink appending to path
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening notification file: %w", err)
	}
	defer fh.Close()

	if _, err := fh.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing notification: %w", err)
	}
	return nil
}

// Multi delivers to every sink and joins their errors
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config carries what the registered factories may need
type Config struct {
	Writer   io.Writer
	Logger   *slog.Logger
	FilePath string
}

// Factory builds a named sink
type Factory func(cfg Config) (Sink, error)

var registry = map[string]Factory{
	"console": func(cfg Config) (Sink, error) {
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return NewConsole(w), nil
	},
	"log": func(cfg Config) (Sink, error) {
		return NewLog(cfg.Logger), nil
	},
	"file": func(cfg Config) (Sink, error) {
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file sink requires a file path")
		}
		return NewFile(cfg.FilePath), nil
	},
}

// Names lists the registered sink names
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves sink names against the registry. An empty list delivers nowhere.
func Build(names []string, cfg Config) (Sink, error) {
	var sinks Multi
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownSink, name, strings.Join(Names(), ", "))
		}
		sink, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("building %s sink: %w", name, err)
		}
		seen[name] = true
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
