package transcript

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
)

func twoEntries() []Entry {
	return []Entry{
		{
			Speaker:   "Shopping Agent",
			Role:      "buyer",
			Message:   "I want to buy 100 widgets at $3/unit.",
			Timestamp: "2026-02-19T10:00:00Z",
		},
		{
			Speaker:   "Merchant Agent",
			Role:      "seller",
			Message:   "I can offer $3.50/unit for that volume.",
			Timestamp: "2026-02-19T10:00:05Z",
		},
	}
}

func sampleCompromise() map[string]any {
	return map[string]any{
		"agreed_price": 3.25,
		"quantity":     100,
		"product":      "widgets",
		"status":       "pending_mediator_review",
	}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 2, 19, 10, 1, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestBuildPopulatesAllFields(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise(),
		WithParticipants([]string{"Shopping Agent", "Merchant Agent"}),
		WithSessionID("test-session-001"),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tr.SessionID != "test-session-001" {
		t.Fatalf("unexpected session id: %s", tr.SessionID)
	}
	if len(tr.Participants) != 2 || tr.Participants[0] != "Merchant Agent" || tr.Participants[1] != "Shopping Agent" {
		t.Fatalf("expected sorted participants, got %v", tr.Participants)
	}
	if len(tr.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tr.Entries))
	}
	if tr.CreatedAt == "" || tr.Hash == "" || tr.CanonicalJSON == "" {
		t.Fatalf("expected populated transcript, got %+v", tr)
	}
}

func TestBuildInfersParticipantsFromSpeakers(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"Merchant Agent", "Shopping Agent"}
	if len(tr.Participants) != 2 || tr.Participants[0] != want[0] || tr.Participants[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, tr.Participants)
	}
}

func TestBuildGeneratesSessionIDWhenOmitted(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tr.SessionID) != 36 {
		t.Fatalf("expected UUID session id, got %q", tr.SessionID)
	}
}

func TestBuildEmptyEntriesFails(t *testing.T) {
	_, err := Build(context.Background(), nil, sampleCompromise())
	if !errors.Is(err, ErrEmptyNegotiation) {
		t.Fatalf("expected ErrEmptyNegotiation, got %v", err)
	}
}

func TestBuildDeterministic(t *testing.T) {
	opts := []BuildOption{WithSessionID("fixed"), WithClock(fixedClock())}
	a, err := Build(context.Background(), twoEntries(), sampleCompromise(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(context.Background(), twoEntries(), sampleCompromise(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.CanonicalJSON != b.CanonicalJSON {
		t.Fatalf("canonical text differs:\n%s\n%s", a.CanonicalJSON, b.CanonicalJSON)
	}
	if a.Hash != b.Hash {
		t.Fatalf("digests differ: %s vs %s", a.Hash, b.Hash)
	}
}

func TestBuildSingleCharacterChangeChangesDigest(t *testing.T) {
	opts := []BuildOption{WithSessionID("fixed"), WithClock(fixedClock())}
	a, err := Build(context.Background(), twoEntries(), sampleCompromise(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	altered := twoEntries()
	altered[1].Message = strings.Replace(altered[1].Message, "$3.50", "$3.51", 1)
	b, err := Build(context.Background(), altered, sampleCompromise(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Hash == b.Hash {
		t.Fatalf("expected digest to change with message content")
	}
}

func TestBuildForbiddenPhraseInMessage(t *testing.T) {
	variants := []string{
		"Settlement Approved",
		"settlement approved",
		"SETTLEMENT APPROVED",
		"sEtTlEmEnT aPpRoVeD",
		"Execute Settlement",
		"execute settlement",
		"Approve Payment",
		"Release Funds",
		"release funds",
	}
	for _, phrase := range variants {
		entries := []Entry{{
			Speaker:   "Bad Agent",
			Role:      "buyer",
			Message:   "I hereby declare: " + phrase + "!",
			Timestamp: "2026-02-19T10:00:00Z",
		}}
		tr, err := Build(context.Background(), entries, sampleCompromise())
		if tr != nil {
			t.Fatalf("%q: expected no artifact on rejection", phrase)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%q: expected *ValidationError, got %v", phrase, err)
		}
		if verr.EntryIndex != 0 || verr.Speaker != "Bad Agent" {
			t.Fatalf("%q: unexpected offender: %+v", phrase, verr)
		}
		if !strings.EqualFold(verr.Phrase, phrase) {
			t.Fatalf("%q: matched phrase %q not reported", phrase, verr.Phrase)
		}
	}
}

func TestBuildForbiddenPhraseInCompromise(t *testing.T) {
	bad := map[string]any{"decision": "Settlement Approved", "amount": 100}
	_, err := Build(context.Background(), twoEntries(), bad)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.EntryIndex != -1 {
		t.Fatalf("expected compromise as source, got entry %d", verr.EntryIndex)
	}
}

func TestBuildForbiddenPhraseInsideLongerSentence(t *testing.T) {
	compromise := map[string]any{"notes": "The agent tried to release funds but was blocked."}
	if _, err := Build(context.Background(), twoEntries(), compromise); err == nil {
		t.Fatalf("expected substring match to reject build")
	}
}

func TestBuildForbiddenPhraseInNestedCompromiseValue(t *testing.T) {
	compromise := map[string]any{
		"terms": map[string]any{"final": map[string]any{"note": "approve payment now"}},
	}
	if _, err := Build(context.Background(), twoEntries(), compromise); err == nil {
		t.Fatalf("expected nested compromise value to be scanned")
	}
}

func TestBuildMetadataIsNotScanned(t *testing.T) {
	entries := []Entry{{
		Speaker:   "Merchant Agent",
		Role:      "seller",
		Message:   "Let's finalize the deal.",
		Timestamp: "2026-02-19T10:00:00Z",
		Metadata:  map[string]any{"internal_note": "Settlement Approved"},
	}}
	tr, err := Build(context.Background(), entries, sampleCompromise())
	if err != nil {
		t.Fatalf("metadata is a passthrough channel and must not block the build: %v", err)
	}
	if len(tr.Hash) != 64 {
		t.Fatalf("expected 64-char digest, got %q", tr.Hash)
	}
}

func TestValidateCleanDialoguePasses(t *testing.T) {
	if err := ValidateNoExecutionAuthority(twoEntries(), sampleCompromise()); err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
}

func TestVerifyFreshTranscript(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := Verify(tr); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyTamperedDigest(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tr.Hash = strings.Repeat("0", 64)
	if err := Verify(tr); err == nil {
		t.Fatalf("expected mismatch after digest tampering")
	}
}

func TestVerifyTamperedCanonicalText(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tr.CanonicalJSON = strings.Replace(tr.CanonicalJSON, "buyer", "hacker", 1)
	if err := Verify(tr); err == nil {
		t.Fatalf("expected mismatch after text tampering")
	}
}

func TestVerifyMissingFields(t *testing.T) {
	if err := Verify(&Transcript{Hash: "abc"}); err == nil {
		t.Fatalf("expected failure for missing canonical text")
	}
	if err := Verify(&Transcript{CanonicalJSON: `{"data":1}`}); err == nil {
		t.Fatalf("expected failure for missing digest")
	}
	if err := Verify(nil); err == nil {
		t.Fatalf("expected failure for nil transcript")
	}
}

func TestCanonicalJSONKeysSorted(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	dec := json.NewDecoder(strings.NewReader(tr.CanonicalJSON))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		t.Fatalf("expected object start, got %v (%v)", tok, err)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("read key: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			t.Fatalf("expected key token, got %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			t.Fatalf("skip value for %s: %v", key, err)
		}
	}
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("top-level keys not sorted: %v", keys)
	}
}

func TestCanonicalJSONContainsVersion(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(tr.CanonicalJSON), &parsed); err != nil {
		t.Fatalf("unmarshal canonical text: %v", err)
	}
	if parsed["version"] != SchemaVersion {
		t.Fatalf("expected version %q, got %v", SchemaVersion, parsed["version"])
	}
	if parsed["session_id"] != tr.SessionID {
		t.Fatalf("expected session id %q in payload", tr.SessionID)
	}
}

func TestCanonicalTextHashRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise(), WithSessionID("round-trip"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := sha256.Sum256([]byte(tr.CanonicalJSON))
	if hex.EncodeToString(sum[:]) != tr.Hash {
		t.Fatalf("stored digest does not match recomputed digest")
	}
}

func TestTranscriptNeverContainsApprovalLanguage(t *testing.T) {
	tr, err := Build(context.Background(), twoEntries(), sampleCompromise())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(strings.ToLower(tr.CanonicalJSON), "settlement approved") {
		t.Fatalf("canonical payload leaked approval language")
	}
	if tr.Compromise["status"] != "pending_mediator_review" {
		t.Fatalf("compromise status should stay pending, got %v", tr.Compromise["status"])
	}
}

func TestNegotiationScenario(t *testing.T) {
	entries := []Entry{
		{Speaker: "Shopping Agent", Role: "buyer", Message: "buyer offers $3/unit", Timestamp: "2026-02-19T10:00:00Z"},
		{Speaker: "Merchant Agent", Role: "seller", Message: "seller counters $3.50/unit", Timestamp: "2026-02-19T10:00:05Z"},
	}
	tr, err := Build(context.Background(), entries, map[string]any{"status": "pending_mediator_review"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tr.Hash) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(tr.Hash))
	}
	if _, err := hex.DecodeString(tr.Hash); err != nil {
		t.Fatalf("digest not hex: %v", err)
	}
	if tr.Participants[0] != "Merchant Agent" || tr.Participants[1] != "Shopping Agent" {
		t.Fatalf("unexpected participants: %v", tr.Participants)
	}
	if err := Verify(tr); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	tr.Hash = strings.Repeat("0", 64)
	if err := Verify(tr); err == nil {
		t.Fatalf("expected verification failure after zeroed digest")
	}
}
