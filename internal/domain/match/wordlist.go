package match

import (
	"strings"
	"sync"

	platformerrors "earwatch-server-go/internal/platform/errors"
)

// WordList is the runtime-replaceable trigger word list shared by all device
// sessions. Words are trimmed and lower-cased on ingestion; a rejected
// replacement never mutates the active list.
type WordList struct {
	mu    sync.RWMutex
	words []string
}

// NewWordList builds a list from the configured seed words.
func NewWordList(words []string) (*WordList, error) {
	normalized, err := normalizeWords(words)
	if err != nil {
		return nil, err
	}
	return &WordList{words: normalized}, nil
}

// Replace swaps the whole list atomically. On validation failure the
// existing list stays untouched.
func (l *WordList) Replace(words []string) error {
	normalized, err := normalizeWords(words)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.words = normalized
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current list safe for concurrent callers.
func (l *WordList) Snapshot() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.words))
	copy(out, l.words)
	return out
}

func normalizeWords(words []string) ([]string, error) {
	if len(words) == 0 {
		return nil, platformerrors.New(platformerrors.KindDomain, "match.wordlist", "trigger word list must not be empty")
	}
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		trimmed := strings.ToLower(strings.TrimSpace(w))
		if trimmed == "" {
			return nil, platformerrors.New(platformerrors.KindDomain, "match.wordlist", "trigger words must not be blank")
		}
		normalized = append(normalized, trimmed)
	}
	return normalized, nil
}

// Detector bundles the shared word list with the configured fuzzy threshold
// so sessions only carry one handle.
type Detector struct {
	words     *WordList
	threshold float64
}

// NewDetector wires a detector around the shared list.
func NewDetector(words *WordList, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Detector{words: words, threshold: threshold}
}

// Detect runs trigger detection against the current word list.
func (d *Detector) Detect(transcript string) []Match {
	return Detect(transcript, d.words.Snapshot(), d.threshold)
}

// Words exposes the underlying list for the configuration surface.
func (d *Detector) Words() *WordList {
	return d.words
}
