package emotion

import "github.com/book-expert/audio-service/internal/markers"

// Rule maps one marker name to an emotion. Rules are evaluated in slice order
// and the first rule whose marker is present wins.
type Rule struct {
	Marker  string
	Emotion Emotion
}

// ComposedRules is the priority-ordered composed-marker table.
// Conflict and withdrawal rules precede the positive ones, so a message that
// carries both an escalation and a positive-momentum marker resolves to
// Frustrated.
var ComposedRules = []Rule{
	// Negative / conflict
	{Marker: "SEM_POTENTIAL_ESCALATION", Emotion: Frustrated},
	{Marker: "SEM_REPETITIVE_ESCALATION", Emotion: Frustrated},
	{Marker: "SEM_CONFLICT_START", Emotion: Frustrated},
	{Marker: "SEM_FRUSTRATED", Emotion: Frustrated},
	{Marker: "SEM_STRONG_DISAGREEMENT", Emotion: Frustrated},
	{Marker: "SEM_REFUSAL", Emotion: Frustrated},
	{Marker: "SEM_FIRM_WITHDRAWAL", Emotion: Sad},
	{Marker: "SEM_SOFT_WITHDRAWAL", Emotion: Sad},
	// Uncertainty / anxiety
	{Marker: "SEM_HESITANT_UNCERTAINTY", Emotion: Anxious},
	{Marker: "SEM_CERTAIN_UNCERTAINTY", Emotion: Uncertain},
	{Marker: "SEM_HESITANT_AGREEMENT", Emotion: Uncertain},
	{Marker: "SEM_HESITANT_REQUEST", Emotion: Uncertain},
	{Marker: "SEM_TIME_CONFLICT", Emotion: Anxious},
	{Marker: "SEM_EMOTIONAL_MIXED", Emotion: Mixed},
	// Positive
	{Marker: "SEM_ACTIVE_ENGAGEMENT", Emotion: Engaged},
	{Marker: "SEM_PASSIVE_ENGAGEMENT", Emotion: Engaged},
	{Marker: "SEM_POSITIVE_MOMENTUM", Emotion: Happy},
	{Marker: "SEM_FIRM_PROMISE", Emotion: Engaged},
	{Marker: "SEM_IMMEDIATE_ACTION", Emotion: Engaged},
}

// AtomicRules is consulted only when no composed rule matched.
// Content emotions rank before modifier/intensity markers.
var AtomicRules = []Rule{
	{Marker: "ATO_POSITIVE", Emotion: Happy},
	{Marker: "ATO_NEGATIVE", Emotion: Sad},
	{Marker: "ATO_FRUSTRATION", Emotion: Frustrated},
	{Marker: "ATO_WITHDRAWAL", Emotion: Sad},
	{Marker: "ATO_ENGAGEMENT", Emotion: Engaged},
	{Marker: "ATO_HESITATION", Emotion: Anxious},
	{Marker: "ATO_INTENSIFIER", Emotion: Intense},
}

// Result is the outcome of resolving one message.
type Result struct {
	Emotion          Emotion  `json:"emotion"`
	Atomic           []string `json:"atos"`
	Composed         []string `json:"sems"`
	Avatar           Avatar   `json:"avatar"`
	VoiceInstruction string   `json:"tts_instruct"`
}

// Resolve maps the markers of one message to its dominant emotion.
func Resolve(atomic []markers.Match, composed []markers.Composed) Result {
	return ResolveNames(markers.Names(atomic), markers.ComposedNames(composed))
}

// ResolveNames is Resolve over raw marker names. Duplicate names are ignored.
func ResolveNames(atomicNames, composedNames []string) Result {
	dominant := firstMatch(ComposedRules, toSet(composedNames))
	if dominant == Neutral && len(atomicNames) > 0 {
		dominant = firstMatch(AtomicRules, toSet(atomicNames))
	}

	return Result{
		Emotion:          dominant,
		Atomic:           nonNil(atomicNames),
		Composed:         nonNil(composedNames),
		Avatar:           AvatarFor(dominant),
		VoiceInstruction: VoiceInstructionFor(dominant),
	}
}

func firstMatch(rules []Rule, present map[string]struct{}) Emotion {
	for _, rule := range rules {
		if _, ok := present[rule.Marker]; ok {
			return rule.Emotion
		}
	}

	return Neutral
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	return set
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}

	return names
}
