package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mailhive-io/mailhive/internal/classify"
	"github.com/mailhive-io/mailhive/internal/config"
	"github.com/mailhive-io/mailhive/internal/mailindex"
	"github.com/mailhive-io/mailhive/internal/ticket"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: mailhivectl tickets <list|show|status>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			cmdTicketsShow(os.Args[3:])
		case "status":
			cmdTicketsStatus(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "mails":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: mailhivectl mails <list|show|search>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdMailsList(os.Args[3:])
		case "show":
			cmdMailsShow(os.Args[3:])
		case "search":
			cmdMailsSearch(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown mails subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "stats":
		cmdStats(os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: mailhivectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- ticket commands ---

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	status := fs.String("status", "", "Filter by status (pending|approved|rejected)")
	tktType := fs.String("type", "", "Filter by ticket type")
	label := fs.String("label", "", "Filter by label")
	query := fs.String("query", "", "Filter by title/description text")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	store := openStore(loadConfig(*configPath))
	defer store.Close()

	filter := ticket.Filter{
		Type:  protocol.TicketType(*tktType),
		Label: *label,
		Query: *query,
		Limit: *limit,
	}
	if *status != "" {
		st := protocol.TicketStatus(*status)
		if !st.Valid() {
			fatalf("invalid status %q", *status)
		}
		filter.Status = &st
	}

	tickets, err := store.List(context.Background(), filter)
	if err != nil {
		fatalf("%v", err)
	}
	for _, t := range tickets {
		fmt.Printf("%-6d %-9s %-8s %-16s %s\n", t.ID, t.Status, t.Priority, t.Type, t.Title)
	}
}

func cmdTicketsShow(args []string) {
	fs := flag.NewFlagSet("tickets show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	fs.Parse(args)
	id := parseTicketID(fs.Args())

	store := openStore(loadConfig(*configPath))
	defer store.Close()

	ctx := context.Background()
	t, err := store.GetByID(ctx, id)
	if errors.Is(err, ticket.ErrNotFound) {
		fatalf("ticket %d not found", id)
	}
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(prettyJSON(t))

	events, err := store.Events(ctx, id)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println("\nEvents:")
	for _, e := range events {
		line := fmt.Sprintf("  %s  %s", e.CreatedAt.Format(time.RFC3339), e.Type)
		if e.Type == protocol.EventStatusChange {
			line += fmt.Sprintf("  %s -> %s", e.OldValue, e.NewValue)
		}
		if e.Actor != "" {
			line += "  by " + e.Actor
		}
		fmt.Println(line)
	}
}

func cmdTicketsStatus(args []string) {
	fs := flag.NewFlagSet("tickets status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	actor := fs.String("actor", "mailhivectl", "Actor recorded in the audit event")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mailhivectl tickets status <id> <approved|rejected>")
		os.Exit(1)
	}
	id := parseTicketID(rest[:1])
	next := protocol.TicketStatus(rest[1])
	if !next.Valid() {
		fatalf("invalid status %q", rest[1])
	}

	cfg := loadConfig(*configPath)
	store := openStore(cfg)
	defer store.Close()

	ctx := context.Background()
	err := store.UpdateStatus(ctx, id, next, *actor)
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		fatalf("ticket %d not found", id)
	case errors.Is(err, ticket.ErrInvalidTransition):
		fatalf("%v", err)
	case err != nil:
		fatalf("%v", err)
	}
	fmt.Printf("ticket %d -> %s\n", id, next)

	// Mirror the decision onto the indexed mail record.
	t, err := store.GetByID(ctx, id)
	if err != nil {
		return
	}
	idx := openIndex(cfg)
	defer idx.Close()
	if err := idx.UpdateStatus(ctx, t.MessageID, "ticket_"+string(next)); err != nil && !errors.Is(err, mailindex.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "warning: mail index not updated: %v\n", err)
	}
}

// --- mail commands ---

func cmdMailsList(args []string) {
	fs := flag.NewFlagSet("mails list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	idx := openIndex(loadConfig(*configPath))
	defer idx.Close()

	records, err := idx.All(context.Background(), *limit)
	if err != nil {
		fatalf("%v", err)
	}
	for _, r := range records {
		fmt.Printf("%-28s %-10s %-30s %s\n", r.MessageID, r.Status, r.Sender, r.Subject)
	}
}

func cmdMailsShow(args []string) {
	fs := flag.NewFlagSet("mails show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	fs.Parse(args)

	if len(fs.Args()) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mailhivectl mails show <message-id>")
		os.Exit(1)
	}

	idx := openIndex(loadConfig(*configPath))
	defer idx.Close()

	r, err := idx.Get(context.Background(), fs.Args()[0])
	if errors.Is(err, mailindex.ErrNotFound) {
		fatalf("mail %s not found", fs.Args()[0])
	}
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(prettyJSON(r))
}

func cmdMailsSearch(args []string) {
	fs := flag.NewFlagSet("mails search", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	limit := fs.Int("limit", 20, "Max results")
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: mailhivectl mails search <terms...>")
		os.Exit(1)
	}

	idx := openIndex(loadConfig(*configPath))
	defer idx.Close()

	results, err := idx.Search(context.Background(), query, *limit)
	if err != nil {
		fatalf("%v", err)
	}
	for _, res := range results {
		fmt.Printf("%-5d %-28s %s\n", res.Score, res.Record.MessageID, res.Record.Subject)
	}
}

// --- stats / logs / config ---

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	classifier := classify.New(cfg.Domains.Internal, cfg.Domains.External,
		classify.WithCacheFile(filepath.Join(cfg.Hive.DataDir, "domain_cache.json")))
	fmt.Println("Domains:")
	fmt.Println(prettyJSON(classifier.Stats()))

	store := openStore(cfg)
	defer store.Close()

	ctx := context.Background()
	fmt.Println("\nTickets:")
	for _, st := range []protocol.TicketStatus{protocol.TicketPending, protocol.TicketApproved, protocol.TicketRejected} {
		n, err := store.Count(ctx, ticket.Filter{Status: &st})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("  %-9s %d\n", st, n)
	}
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config JSON file")
	tail := fs.Int("n", 50, "Show the last N entries")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	path := filepath.Join(cfg.Hive.DataDir, "mailhived.log")

	data, err := os.ReadFile(path)
	if err != nil {
		fatalf("no log snapshot at %s (is the daemon running, or did it never stop?)", path)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if *tail > 0 && len(lines) > *tail {
		lines = lines[len(lines)-*tail:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- helpers ---

func loadConfig(path string) *config.Config {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) ticket.Store {
	store, err := ticket.NewSQLiteStore(cfg.Stores.TicketDB, retryPolicy(cfg))
	if err != nil {
		fatalf("open ticket store: %v", err)
	}
	return store
}

func openIndex(cfg *config.Config) *mailindex.Index {
	idx, err := mailindex.Open(cfg.Stores.IndexDB, retryPolicy(cfg))
	if err != nil {
		fatalf("open mail index: %v", err)
	}
	return idx
}

func retryPolicy(cfg *config.Config) ticket.RetryPolicy {
	return ticket.RetryPolicy{
		Attempts: cfg.Stores.BusyAttempts,
		Backoff:  time.Duration(cfg.Stores.BusyBackoff) * time.Millisecond,
	}
}

func parseTicketID(args []string) int64 {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "ticket id required")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fatalf("invalid ticket id %q", args[0])
	}
	return id
}

func prettyJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(out)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("mailhivectl - mailhive store CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  tickets list             List tickets (--status, --type, --label, --query, --limit)")
	fmt.Println("  tickets show <id>        Show a ticket and its events")
	fmt.Println("  tickets status <id> <s>  Approve or reject a pending ticket (--actor)")
	fmt.Println("  mails list               List indexed mail (--limit)")
	fmt.Println("  mails show <message-id>  Show an indexed mail record")
	fmt.Println("  mails search <terms...>  Ranked search over subject/summary/content")
	fmt.Println("  stats                    Domain classification and ticket counts")
	fmt.Println("  logs                     Show the daemon's last log snapshot (-n)")
	fmt.Println("  config validate <path>   Validate a config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MAILHIVE_DATA_DIR        Data directory (when no --config is given)")
	fmt.Println("  MAILHIVE_HIVE_ID         Hive instance id")
}
