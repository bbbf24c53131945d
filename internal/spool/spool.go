// Package spool ingests mail from a drop directory. Connectors (or the
// operator, with a text editor) write one JSON record per file; the watcher
// scans the directory on a cron schedule, parses each record into a RawMail,
// and hands it to the pipeline over a channel. Processed files move to done/,
// malformed ones to failed/, so a record is picked up at most once.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// entry is the wire shape of one spool file.
type entry struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             senderEntry `json:"from"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	HasAttachments   bool        `json:"hasAttachments"`
	Body             bodyEntry   `json:"body"`
}

type senderEntry struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type bodyEntry struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// Parse decodes one spool record. Records without an id get a generated one,
// so hand-written drop files stay valid. The timestamp accepts any common
// format; an empty timestamp means "now".
func Parse(data []byte) (protocol.RawMail, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return protocol.RawMail{}, fmt.Errorf("spool: decode record: %w", err)
	}
	if e.From.Address == "" {
		return protocol.RawMail{}, fmt.Errorf("spool: record has no sender address")
	}

	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	received := time.Now().UTC()
	if e.ReceivedDateTime != "" {
		t, err := dateparse.ParseAny(e.ReceivedDateTime)
		if err != nil {
			return protocol.RawMail{}, fmt.Errorf("spool: bad receivedDateTime %q: %w", e.ReceivedDateTime, err)
		}
		received = t.UTC()
	}

	bodyType := protocol.ContentText
	if strings.Contains(strings.ToLower(e.Body.ContentType), "html") {
		bodyType = protocol.ContentHTML
	}

	return protocol.RawMail{
		ID:             id,
		Subject:        e.Subject,
		From:           protocol.Sender{Name: e.From.Name, Address: e.From.Address},
		Body:           e.Body.Content,
		BodyType:       bodyType,
		Received:       received,
		HasAttachments: e.HasAttachments,
	}, nil
}

// Watcher scans a spool directory and feeds parsed mail to a channel.
type Watcher struct {
	dir      string
	out      chan<- protocol.RawMail
	logger   *slog.Logger
	scanning atomic.Bool
}

// New prepares a watcher, creating the spool directory and its done/ and
// failed/ subdirectories.
func New(dir string, out chan<- protocol.RawMail, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range []string{dir, filepath.Join(dir, "done"), filepath.Join(dir, "failed")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("spool: create %s: %w", d, err)
		}
	}
	return &Watcher{dir: dir, out: out, logger: logger}, nil
}

// Scan processes every *.json file currently in the spool directory and
// returns the number of mails dispatched. Scans never overlap: if one is
// already running, Scan returns immediately with 0.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	if !w.scanning.CompareAndSwap(false, true) {
		w.logger.Debug("spool scan already running, skipping")
		return 0, nil
	}
	defer w.scanning.Store(false)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("spool: read dir: %w", err)
	}

	dispatched := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.dir, de.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("spool file unreadable", "file", de.Name(), "err", err)
			continue
		}

		mail, err := Parse(data)
		if err != nil {
			w.logger.Warn("spool record rejected", "file", de.Name(), "err", err)
			w.move(path, "failed")
			continue
		}

		select {
		case w.out <- mail:
		case <-ctx.Done():
			return dispatched, ctx.Err()
		}
		w.move(path, "done")
		dispatched++
	}
	return dispatched, nil
}

// Run scans once immediately, then on the given cron schedule, until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n, err := w.Scan(ctx); err != nil {
			w.logger.Error("spool scan failed", "err", err)
		} else if n > 0 {
			w.logger.Info("spool scan dispatched mail", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("spool: invalid schedule %q: %w", schedule, err)
	}

	if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("initial spool scan failed", "err", err)
	}

	c.Start()
	w.logger.Info("spool watcher started", "dir", w.dir, "schedule", schedule)

	<-ctx.Done()
	c.Stop()
	w.logger.Info("spool watcher stopped")
	return ctx.Err()
}

// move relocates a processed file into a subdirectory, deduplicating the
// name if a previous run left one behind.
func (w *Watcher) move(path, sub string) {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		dst = dst + "." + uuid.NewString()
	}
	if err := os.Rename(path, dst); err != nil {
		w.logger.Warn("spool file not moved", "file", path, "err", err)
	}
}
