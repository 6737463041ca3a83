package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Config   string        `arg:"" type:"path" help:"Path to the configuration file"`
	Since    time.Duration `default:"24h" help:"How far back to look"`
	Session  string        `help:"Only show events of this session"`
	Sessions bool          `help:"Summarize sessions instead of listing events"`
	JSON     bool          `name:"json" help:"Print events as JSON lines"`
}

func (h *HistoryCmd) Run(g *Global) error {
	cfg, err := loadConfig(g, h.Config)
	if err != nil {
		return err
	}
	if cfg.EventStorePath == "" {
		return foundationerrors.ConfigurationError("event journal is disabled (eventStorePath is \"none\")").
			WithContext("field", "eventStorePath").
			Build()
	}
	store, err := eventstore.NewSQLiteStore(cfg.EventStorePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	since := time.Now().Add(-h.Since)
	if h.Sessions {
		p := eventstore.NewSessionHistoryProjection(store, 1000)
		if err := p.Rebuild(ctx, since); err != nil {
			return err
		}
		return printSessions(g.Out, p.GetHistory())
	}

	var events []eventstore.Event
	if h.Session != "" {
		events, err = store.GetBySession(ctx, h.Session)
	} else {
		events, err = store.GetRange(ctx, since, time.Now())
	}
	if err != nil {
		return err
	}
	if h.JSON {
		return printEventsJSON(g.Out, events)
	}
	return printEvents(g.Out, events)
}

func printEvents(w io.Writer, events []eventstore.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tSESSION\tPAYLOAD")
	for _, ev := range events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.Timestamp().Local().Format(time.DateTime), ev.Type(), shortID(ev.SessionID()), ev.Payload())
	}
	return tw.Flush()
}

func printEventsJSON(w io.Writer, events []eventstore.Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(map[string]any{
			"time":       ev.Timestamp(),
			"type":       ev.Type(),
			"session_id": ev.SessionID(),
			"payload":    json.RawMessage(ev.Payload()),
		}); err != nil {
			return err
		}
	}
	return nil
}

func printSessions(w io.Writer, sessions []eventstore.SessionSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SESSION\tSTATUS\tCOMMIT\tWORKERS\tDURATION\tNEW INPUTS\tCORPUS")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
			shortID(s.SessionID), s.Status, shortID(s.Commit), s.Workers, s.Duration.Round(time.Second), s.CorpusAdded, s.CorpusSize)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
