package transcript

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/a2a-settlement/a2ase/pkg/canonhash"
	"github.com/a2a-settlement/a2ase/pkg/canonjson"
)

var tracer = otel.Tracer("github.com/a2a-settlement/a2ase/pkg/transcript")

type buildOptions struct {
	participants []string
	sessionID    string
	now          func() time.Time
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

// WithParticipants overrides participant inference from entry speakers.
func WithParticipants(participants []string) BuildOption {
	return func(o *buildOptions) { o.participants = participants }
}

// WithSessionID pins the session identifier instead of generating one.
func WithSessionID(id string) BuildOption {
	return func(o *buildOptions) { o.sessionID = id }
}

// WithClock pins the creation timestamp source. Exists so canonical output
// can be reproduced exactly.
func WithClock(now func() time.Time) BuildOption {
	return func(o *buildOptions) { o.now = now }
}

// Build assembles dialogue turns and an agreement payload into a hashed
// transcript. The authority guard runs before anything is canonicalized, so
// a rejected negotiation never yields a partial artifact. The returned
// transcript is fully populated and must not be mutated.
func Build(ctx context.Context, entries []Entry, compromise map[string]any, opts ...BuildOption) (*Transcript, error) {
	_, span := tracer.Start(ctx, "transcript.build")
	defer span.End()

	if len(entries) == 0 {
		return nil, ErrEmptyNegotiation
	}

	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	participants := o.participants
	if len(participants) == 0 {
		participants = inferParticipants(entries)
	} else {
		participants = append([]string(nil), participants...)
	}
	sort.Strings(participants)

	sessionID := o.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	createdAt := o.now().UTC().Format(time.RFC3339)

	if err := ValidateNoExecutionAuthority(entries, compromise); err != nil {
		return nil, err
	}

	canonical, err := canonjson.EncodeString(canonicalDocument(sessionID, participants, entries, compromise, createdAt))
	if err != nil {
		return nil, err
	}
	digest := canonhash.HashString(canonical)

	span.SetAttributes(
		attribute.String("transcript.session_id", sessionID),
		attribute.Int("transcript.entry_count", len(entries)),
		attribute.String("transcript.hash_prefix", digest[:16]),
	)
	log.Printf("transcript built: session=%s entries=%d hash=%s...", sessionID, len(entries), digest[:16])

	return &Transcript{
		SessionID:     sessionID,
		Participants:  participants,
		Entries:       append([]Entry(nil), entries...),
		Compromise:    compromise,
		CreatedAt:     createdAt,
		CanonicalJSON: canonical,
		Hash:          digest,
	}, nil
}

// Verify re-hashes the stored canonical text and compares it to the stored
// digest. A mismatch means the transcript was altered after construction.
func Verify(t *Transcript) error {
	if t == nil {
		return canonhash.ErrMissingData
	}
	return canonhash.Verify(t.CanonicalJSON, t.Hash)
}

func inferParticipants(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.Speaker]; ok {
			continue
		}
		seen[e.Speaker] = struct{}{}
		out = append(out, e.Speaker)
	}
	return out
}

// canonicalDocument builds the payload that gets hashed. Key order inside is
// irrelevant here; canonjson sorts every level.
func canonicalDocument(sessionID string, participants []string, entries []Entry, compromise map[string]any, createdAt string) map[string]any {
	turns := make([]any, len(entries))
	for i, e := range entries {
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		turns[i] = map[string]any{
			"message":   e.Message,
			"metadata":  metadata,
			"role":      e.Role,
			"speaker":   e.Speaker,
			"timestamp": e.Timestamp,
		}
	}
	participantsAny := make([]any, len(participants))
	for i, p := range participants {
		participantsAny[i] = p
	}
	if compromise == nil {
		compromise = map[string]any{}
	}
	return map[string]any{
		"compromise":   compromise,
		"created_at":   createdAt,
		"entries":      turns,
		"participants": participantsAny,
		"session_id":   sessionID,
		"version":      SchemaVersion,
	}
}
