package transcript

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/a2a-settlement/a2ase/pkg/canonjson"
)

// ForbiddenPhrases are execution-authorization claims agents must never emit.
// Matching is case-insensitive substring: "release funds" buried in a longer
// sentence still trips the guard.
var ForbiddenPhrases = []string{
	"settlement approved",
	"execute settlement",
	"approve payment",
	"release funds",
}

// One compiled alternation instead of a substring scan per phrase, so the
// guard stays cheap as the list grows.
var forbiddenPattern = compileForbidden(ForbiddenPhrases)

func compileForbidden(phrases []string) *regexp.Regexp {
	escaped := make([]string, len(phrases))
	for i, p := range phrases {
		escaped[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("(?i)" + strings.Join(escaped, "|"))
}

// ValidationError reports a forbidden execution-authority phrase found during
// transcript construction. EntryIndex is -1 when the phrase was found in the
// compromise mapping rather than a dialogue turn.
type ValidationError struct {
	EntryIndex int
	Speaker    string
	Phrase     string
}

func (e *ValidationError) Error() string {
	if e.EntryIndex < 0 {
		return fmt.Sprintf("transcript: compromise contains forbidden phrase %q; agents must not claim execution authority", e.Phrase)
	}
	return fmt.Sprintf("transcript: entry %d by %q contains forbidden phrase %q; agents must not claim execution authority", e.EntryIndex, e.Speaker, e.Phrase)
}

// ValidateNoExecutionAuthority scans every entry message and the serialized
// compromise mapping for forbidden phrases, failing on the first match.
// Entry metadata is deliberately not scanned; it is an opaque passthrough
// channel callers must treat as untrusted.
func ValidateNoExecutionAuthority(entries []Entry, compromise map[string]any) error {
	for i, entry := range entries {
		if m := forbiddenPattern.FindString(entry.Message); m != "" {
			return &ValidationError{EntryIndex: i, Speaker: entry.Speaker, Phrase: m}
		}
	}
	serialized, err := canonjson.EncodeString(compromise)
	if err != nil {
		return fmt.Errorf("transcript: serialize compromise: %w", err)
	}
	if m := forbiddenPattern.FindString(serialized); m != "" {
		return &ValidationError{EntryIndex: -1, Phrase: m}
	}
	return nil
}
