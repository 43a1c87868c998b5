// Package transcript assembles agent negotiation dialogue into hashed,
// tamper-evident transcripts. Agents negotiate; they never execute. The
// transcript is the only artifact handed to the mediator that authorizes
// settlement, and construction refuses any dialogue that tries to claim
// execution authority inline.
package transcript

import "errors"

// SchemaVersion is embedded in every canonical payload.
const SchemaVersion = "1.0"

// ErrEmptyNegotiation reports a build attempt with no dialogue turns.
var ErrEmptyNegotiation = errors.New("transcript: entries must contain at least one dialogue turn")

// Entry is a single dialogue turn. Entries are immutable once handed to
// Build; the transcript owns its own copies.
type Entry struct {
	Speaker   string         `json:"speaker"`
	Role      string         `json:"role"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	// Metadata is an opaque passthrough channel. It is embedded in the
	// canonical payload but never scanned by the authority guard.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Transcript is the hashed output artifact. CanonicalJSON is the
// authoritative payload; Hash must equal the SHA-256 hex digest of
// CanonicalJSON at all times after construction. The struct is never
// mutated after Build returns; mutation afterwards is exactly the
// tampering Verify exists to detect.
type Transcript struct {
	SessionID     string         `json:"session_id"`
	Participants  []string       `json:"participants"`
	Entries       []Entry        `json:"entries"`
	Compromise    map[string]any `json:"compromise"`
	CreatedAt     string         `json:"created_at"`
	CanonicalJSON string         `json:"transcript_json"`
	Hash          string         `json:"transcript_hash"`
}
