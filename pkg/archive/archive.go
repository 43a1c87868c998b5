// Package archive persists sealed negotiation transcripts in Postgres. The
// archive is write-once: a session id is stored at most once, and a second
// save is accepted only when it carries the same digest. Loading re-verifies
// the digest so silent corruption in storage is caught at read time.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/a2a-settlement/a2ase/pkg/canonhash"
	"github.com/a2a-settlement/a2ase/pkg/transcript"
)

var (
	ErrNotArchived = errors.New("archive: transcript not found")

	// ErrDigestConflict means a different transcript was already archived
	// under the same session id. The stored record is never overwritten.
	ErrDigestConflict = errors.New("archive: session already archived with a different digest")
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    session_id     TEXT PRIMARY KEY,
    digest         TEXT NOT NULL,
    canonical_json TEXT NOT NULL,
    participants   TEXT[] NOT NULL DEFAULT '{}',
    entry_count    INT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transcripts_digest_idx ON transcripts(digest);
`

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// EnsureSchema creates the transcript table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

// Save archives a sealed transcript. The transcript is verified before any
// write; a tampered artifact never reaches storage. Saving the same
// transcript twice is a no-op.
func (s *Store) Save(ctx context.Context, t *transcript.Transcript) error {
	if err := transcript.Verify(t); err != nil {
		return fmt.Errorf("archive: refusing to store: %w", err)
	}
	tag, err := s.DB.Exec(ctx,
		`INSERT INTO transcripts(session_id, digest, canonical_json, participants, entry_count)
		 VALUES($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		t.SessionID, t.Hash, t.CanonicalJSON, t.Participants, len(t.Entries))
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", t.SessionID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var stored string
	err = s.DB.QueryRow(ctx, `SELECT digest FROM transcripts WHERE session_id=$1`, t.SessionID).Scan(&stored)
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", t.SessionID, err)
	}
	if stored != t.Hash {
		return fmt.Errorf("%w: session %s", ErrDigestConflict, t.SessionID)
	}
	return nil
}

// Get loads a transcript by session id and re-verifies the stored digest
// against the stored canonical text before rebuilding the artifact.
func (s *Store) Get(ctx context.Context, sessionID string) (*transcript.Transcript, error) {
	var digest, canonical string
	err := s.DB.QueryRow(ctx,
		`SELECT digest, canonical_json FROM transcripts WHERE session_id=$1`, sessionID).
		Scan(&digest, &canonical)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotArchived, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", sessionID, err)
	}
	if err := canonhash.Verify(canonical, digest); err != nil {
		return nil, fmt.Errorf("archive: stored transcript %s is corrupt: %w", sessionID, err)
	}
	return Rehydrate(canonical, digest)
}

// Info is the archive's listing row; the canonical text stays out of lists.
type Info struct {
	SessionID  string `json:"session_id"`
	Digest     string `json:"digest"`
	EntryCount int    `json:"entry_count"`
}

// List pages through archived transcripts, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Info, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT session_id, digest, entry_count FROM transcripts
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.SessionID, &info.Digest, &info.EntryCount); err != nil {
			return nil, fmt.Errorf("archive: list: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Rehydrate rebuilds a Transcript from its canonical serialization and
// digest. The canonical text is authoritative: field values come from it, and
// the digest must match it.
func Rehydrate(canonical, digest string) (*transcript.Transcript, error) {
	if err := canonhash.Verify(canonical, digest); err != nil {
		return nil, err
	}
	var doc struct {
		SessionID    string         `json:"session_id"`
		Participants []string       `json:"participants"`
		Compromise   map[string]any `json:"compromise"`
		CreatedAt    string         `json:"created_at"`
		Entries      []struct {
			Speaker   string         `json:"speaker"`
			Role      string         `json:"role"`
			Message   string         `json:"message"`
			Timestamp string         `json:"timestamp"`
			Metadata  map[string]any `json:"metadata"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(canonical), &doc); err != nil {
		return nil, fmt.Errorf("archive: malformed canonical text: %w", err)
	}
	t := &transcript.Transcript{
		SessionID:     doc.SessionID,
		Participants:  doc.Participants,
		Compromise:    doc.Compromise,
		CreatedAt:     doc.CreatedAt,
		CanonicalJSON: canonical,
		Hash:          digest,
	}
	for _, e := range doc.Entries {
		t.Entries = append(t.Entries, transcript.Entry{
			Speaker: e.Speaker, Role: e.Role, Message: e.Message,
			Timestamp: e.Timestamp, Metadata: e.Metadata,
		})
	}
	return t, nil
}
