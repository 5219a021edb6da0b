package db

import (
	"database/sql"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Event represents a row from the events table.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	ParentID  sql.NullInt64  `json:"-"`
	EventType string         `json:"event_type"`
	Payload   sql.NullString `json:"-"`
	Children  []*Event       `json:"children,omitempty"`
}

// LatestProcessRoot finds the most recent process.started event.
func LatestProcessRoot(database *sql.DB) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
		EventProcessStarted,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, errors.New("no process.started event found")
	}
	return id, errors.Wrap(err, "query latest process root")
}

// QuerySubtree returns all events in the subtree rooted at rootID using a recursive CTE.
func QuerySubtree(database *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "query subtree")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ParentID, &e.EventType, &e.Payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// BuildTree links events into a tree and returns the node with rootID.
func BuildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	for _, e := range events {
		if !e.ParentID.Valid || e.ID == rootID {
			continue
		}
		if parent, ok := byID[e.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, e)
		}
	}
	return byID[rootID]
}

// Journal records events under one process.started root. A nil *Journal
// discards everything, so callers never need to check whether auditing is on.
type Journal struct {
	db     *sql.DB
	rootID int64
}

// StartJournal logs process.started and returns a Journal rooted at it.
func StartJournal(database *sql.DB, payload map[string]any) (*Journal, error) {
	id, err := LogEvent(database, nil, EventProcessStarted, payload)
	if err != nil {
		return nil, err
	}
	return &Journal{db: database, rootID: id}, nil
}

// RootID returns the process.started event id.
func (j *Journal) RootID() int64 {
	if j == nil {
		return 0
	}
	return j.rootID
}

// Log records an event below parentID, or below the root when parentID is 0.
// Failures are logged and reported as id 0.
func (j *Journal) Log(parentID int64, eventType string, payload map[string]any) int64 {
	if j == nil {
		return 0
	}
	if parentID == 0 {
		parentID = j.rootID
	}
	id, err := LogEvent(j.db, &parentID, eventType, payload)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("failed to record event")
		return 0
	}
	return id
}
