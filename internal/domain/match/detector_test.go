package match

import (
	"reflect"
	"testing"
)

func TestDetectExactWholeToken(t *testing.T) {
	matches := Detect("there is a fire here", []string{"fire"}, DefaultFuzzyThreshold)
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %v", matches)
	}
	if matches[0].Kind != KindExact || matches[0].Phrase != "fire" {
		t.Fatalf("expected exact match on fire, got %+v", matches[0])
	}
}

func TestDetectExactPhrase(t *testing.T) {
	matches := Detect("please help me right now", []string{"help me"}, DefaultFuzzyThreshold)
	if len(matches) != 1 || matches[0].Kind != KindExact {
		t.Fatalf("expected exact phrase match, got %v", matches)
	}
}

func TestDetectSubstring(t *testing.T) {
	matches := Detect("i need helps now", []string{"help"}, DefaultFuzzyThreshold)
	var sub *Match
	for i := range matches {
		if matches[i].Kind == KindSubstring {
			sub = &matches[i]
		}
	}
	if sub == nil {
		t.Fatalf("expected substring match, got %v", matches)
	}
	if sub.MatchedWord != "helps" {
		t.Fatalf("expected matched word helps, got %q", sub.MatchedWord)
	}
}

func TestDetectFuzzy(t *testing.T) {
	matches := Detect("sound the alarn now", []string{"alarm"}, DefaultFuzzyThreshold)
	var fuzzy *Match
	for i := range matches {
		if matches[i].Kind == KindFuzzy {
			fuzzy = &matches[i]
		}
	}
	if fuzzy == nil {
		t.Fatalf("expected fuzzy match, got %v", matches)
	}
	if fuzzy.MatchedWord != "alarn" || fuzzy.Score < DefaultFuzzyThreshold {
		t.Fatalf("unexpected fuzzy descriptor: %+v", fuzzy)
	}
}

func TestDetectSubstringAndFuzzyAccumulate(t *testing.T) {
	// One trigger word may legitimately report both a substring and a fuzzy
	// descriptor for the same transcript.
	matches := Detect("helpp", []string{"help"}, DefaultFuzzyThreshold)
	if len(matches) != 2 {
		t.Fatalf("expected two descriptors, got %v", matches)
	}
	if matches[0].Kind != KindSubstring || matches[1].Kind != KindFuzzy {
		t.Fatalf("expected substring then fuzzy, got %v", matches)
	}
}

func TestDetectExactSuppressesOtherStrategies(t *testing.T) {
	matches := Detect("fire fire fire", []string{"fire"}, DefaultFuzzyThreshold)
	if len(matches) != 1 || matches[0].Kind != KindExact {
		t.Fatalf("exact hit should suppress further strategies, got %v", matches)
	}
}

func TestDetectLengthGates(t *testing.T) {
	// Substring needs both sides >= 2 chars, fuzzy >= 3.
	if matches := Detect("a b c", []string{"ab"}, DefaultFuzzyThreshold); len(matches) != 0 {
		t.Fatalf("short tokens must not substring-match, got %v", matches)
	}
	if matches := Detect("ab cd", []string{"abc"}, DefaultFuzzyThreshold); len(matches) != 0 {
		t.Fatalf("two-char tokens must not fuzzy-match, got %v", matches)
	}
}

func TestDetectNoMatches(t *testing.T) {
	if matches := Detect("a quiet afternoon", []string{"fire", "alarm"}, DefaultFuzzyThreshold); len(matches) != 0 {
		t.Fatalf("expected no matches, got %v", matches)
	}
	if matches := Detect("", []string{"fire"}, DefaultFuzzyThreshold); len(matches) != 0 {
		t.Fatalf("empty transcript must not match, got %v", matches)
	}
}

func TestDetectIdempotent(t *testing.T) {
	first := Detect("i need helps now", []string{"help", "fire"}, DefaultFuzzyThreshold)
	second := Detect("i need helps now", []string{"help", "fire"}, DefaultFuzzyThreshold)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Detect is not idempotent: %v vs %v", first, second)
	}
}

func TestDetectMultipleTriggerWords(t *testing.T) {
	matches := Detect("fire and smoke, sound the alarm", []string{"fire", "alarm", "flood"}, DefaultFuzzyThreshold)
	phrases := Phrases(matches)
	if !reflect.DeepEqual(phrases, []string{"fire", "alarm"}) {
		t.Fatalf("unexpected phrases: %v", phrases)
	}
}

func TestWordListReplaceRejectsMalformed(t *testing.T) {
	list, err := NewWordList([]string{" Fire ", "ALARM"})
	if err != nil {
		t.Fatalf("NewWordList error: %v", err)
	}
	if got := list.Snapshot(); !reflect.DeepEqual(got, []string{"fire", "alarm"}) {
		t.Fatalf("expected normalized words, got %v", got)
	}

	if err := list.Replace([]string{"help", "  "}); err == nil {
		t.Fatalf("expected rejection of blank entry")
	}
	if err := list.Replace(nil); err == nil {
		t.Fatalf("expected rejection of empty list")
	}
	// Rejected updates leave the active list untouched.
	if got := list.Snapshot(); !reflect.DeepEqual(got, []string{"fire", "alarm"}) {
		t.Fatalf("rejected replace mutated list: %v", got)
	}

	if err := list.Replace([]string{"Mayday"}); err != nil {
		t.Fatalf("valid replace failed: %v", err)
	}
	if got := list.Snapshot(); !reflect.DeepEqual(got, []string{"mayday"}) {
		t.Fatalf("replace did not apply: %v", got)
	}
}

func TestDetectorUsesLiveWordList(t *testing.T) {
	list, err := NewWordList([]string{"fire"})
	if err != nil {
		t.Fatalf("NewWordList error: %v", err)
	}
	detector := NewDetector(list, 0)

	if matches := detector.Detect("call for help"); len(matches) != 0 {
		t.Fatalf("unexpected matches before replace: %v", matches)
	}
	if err := list.Replace([]string{"help"}); err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	if matches := detector.Detect("call for help"); len(matches) != 1 {
		t.Fatalf("expected match after replace, got %v", matches)
	}
}
