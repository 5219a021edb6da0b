package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/zyro/internal/config"
	"github.com/stupiduntilnot/zyro/internal/db"
	"github.com/stupiduntilnot/zyro/internal/model"
)

type eventsFlags struct {
	dbPath    string
	eventID   int64
	maxDepth  int
	jsonOut   bool
	noPayload bool
}

func newEventsCmd(configPath *string) *cobra.Command {
	var f eventsFlags
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the audit event tree of the latest (or a given) run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.dbPath == "" {
				cfg, err := config.Read(*configPath)
				if err != nil {
					return err
				}
				f.dbPath = cfg.Events.DBPath
			}
			if f.dbPath == "" {
				return errors.New("no events database: set events.db_path or --db")
			}
			return runEvents(cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.dbPath, "db", "", "events database (default events.db_path)")
	cmd.Flags().Int64Var(&f.eventID, "id", 0, "show subtree of a specific event ID")
	cmd.Flags().IntVarP(&f.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "output JSON format")
	cmd.Flags().BoolVar(&f.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

func runEvents(w io.Writer, f eventsFlags) error {
	database, err := db.OpenReadOnly(f.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	rootID := f.eventID
	if rootID == 0 {
		if rootID, err = db.LatestProcessRoot(database); err != nil {
			return err
		}
	}
	events, err := db.QuerySubtree(database, rootID)
	if err != nil {
		return err
	}
	root := db.BuildTree(events, rootID)
	if root == nil {
		return errors.Errorf("event %d not found", rootID)
	}

	if f.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(toJSONEvent(root, 1, f.maxDepth, f.noPayload)), "encode json")
	}
	printTree(w, root, "", true, 1, f.maxDepth, f.noPayload)
	return nil
}

// printTree renders the event tree using box-drawing characters.
func printTree(w io.Writer, ev *db.Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent renders [id] timestamp  event_type  key=value ...
func formatEvent(ev *db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload {
		return line
	}
	m := payloadOf(ev)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
	}
	return line
}

func payloadOf(ev *db.Event) map[string]any {
	if !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue renders a payload value, clipping long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if clipped := model.Truncate(val, 80); clipped != val {
			return fmt.Sprintf("%q", clipped+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *db.Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{ID: ev.ID, Timestamp: ev.Timestamp, EventType: ev.EventType}
	if !noPayload {
		if m := payloadOf(ev); m != nil {
			je.Payload = m
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}
