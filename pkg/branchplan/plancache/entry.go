package plancache

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Version is the current entry format version.
// Increment when making breaking changes to Entry.
const Version = 1

// Entry is the persisted form of an execution plan.
type Entry struct {
	// Metadata
	Version   int       `json:"version"`
	GraphID   string    `json:"graph_id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`

	// Plan contents, node IDs in dependency order.
	Included []string `json:"included"`
	Skipped  []string `json:"skipped"`
	Pending  []string `json:"pending,omitempty"`
	Deferred []string `json:"deferred,omitempty"`

	// Taken records the ports each resolved branch took.
	Taken map[string][]string `json:"taken,omitempty"`
}

// Marshal serializes an entry to JSON.
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an entry from JSON.
// Returns ErrVersionMismatch for entries of another format version.
func Unmarshal(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, e.Version, Version)
	}
	return &e, nil
}

// New creates an empty entry for graphID and key.
func New(graphID, key string) *Entry {
	return &Entry{
		Version:   Version,
		GraphID:   graphID,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
}

// Key derives the canonical cache key from branch outcomes: branch ID to
// the ports it took. A branch with an empty port list is distinct from an
// absent branch. Separator characters inside IDs and port names are
// backslash-escaped, so distinct outcomes never share a key.
//
// Example:
//
//	plancache.Key(map[string][]string{"switch": {"true_output"}})
//	// "switch=true_output"
func Key(outcomes map[string][]string) string {
	if len(outcomes) == 0 {
		return "-"
	}
	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(';')
		}
		ports := slices.Clone(outcomes[id])
		slices.Sort(ports)
		keyEscaper.WriteString(&b, id)
		b.WriteByte('=')
		for j, p := range ports {
			if j > 0 {
				b.WriteByte(',')
			}
			keyEscaper.WriteString(&b, p)
		}
	}
	return b.String()
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "=", `\=`)
