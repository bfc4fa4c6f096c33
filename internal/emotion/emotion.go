// Package emotion resolves detected text markers into one dominant emotion and
// the avatar and voice-style directives that go with it.
package emotion

import "strings"

// Emotion is a closed set of labels driving avatar expression and voice style.
type Emotion string

// The closed set of emotion labels. Neutral is the default and terminal fallback.
const (
	Neutral    Emotion = "neutral"
	Happy      Emotion = "happy"
	Sad        Emotion = "sad"
	Frustrated Emotion = "frustrated"
	Anxious    Emotion = "anxious"
	Uncertain  Emotion = "uncertain"
	Engaged    Emotion = "engaged"
	Mixed      Emotion = "mixed"
	Intense    Emotion = "intense"
)

// All returns every label of the closed set.
func All() []Emotion {
	return []Emotion{
		Happy, Sad, Frustrated, Anxious, Uncertain, Engaged, Mixed, Intense, Neutral,
	}
}

// Parse maps a label to an Emotion. Unknown labels report false.
func Parse(label string) (Emotion, bool) {
	candidate := Emotion(strings.ToLower(strings.TrimSpace(label)))
	for _, known := range All() {
		if candidate == known {
			return known, true
		}
	}

	return Neutral, false
}

// String implements fmt.Stringer.
func (e Emotion) String() string {
	return string(e)
}

// Avatar is the mood/expression pair sent to the avatar renderer.
type Avatar struct {
	Mood       string `json:"mood"`
	Expression string `json:"expression"`
}

// AvatarFor returns the avatar directive for an emotion.
// Labels outside the closed set get the neutral directive.
func AvatarFor(e Emotion) Avatar {
	switch e {
	case Happy:
		return Avatar{Mood: "happy", Expression: "smile"}
	case Sad:
		return Avatar{Mood: "sad", Expression: "frown"}
	case Frustrated:
		return Avatar{Mood: "angry", Expression: "serious"}
	case Anxious:
		return Avatar{Mood: "concerned", Expression: "worried"}
	case Uncertain:
		return Avatar{Mood: "neutral", Expression: "thinking"}
	case Engaged:
		return Avatar{Mood: "happy", Expression: "attentive"}
	case Mixed:
		return Avatar{Mood: "neutral", Expression: "thoughtful"}
	case Intense:
		return Avatar{Mood: "surprised", Expression: "alert"}
	case Neutral:
		return Avatar{Mood: "neutral", Expression: "idle"}
	default:
		return Avatar{Mood: "neutral", Expression: "idle"}
	}
}

// VoiceInstructionFor returns the German voice-style instruction for an emotion.
// Neutral and unknown labels return an empty instruction (no style override).
func VoiceInstructionFor(e Emotion) string {
	switch e {
	case Happy:
		return "Mit fröhlicher, warmer Stimme"
	case Sad:
		return "Mit sanfter, einfühlsamer Stimme"
	case Frustrated:
		return "Mit ruhiger, neutraler Stimme"
	case Anxious:
		return "Mit ruhiger, beruhigender Stimme"
	case Uncertain:
		return "Mit geduldiger, ermutigender Stimme"
	case Engaged:
		return "Mit enthusiastischer, lebhafter Stimme"
	case Mixed:
		return "Mit verständnisvoller Stimme"
	case Intense:
		return "Mit klarer, bestimmter Stimme"
	case Neutral:
		return ""
	default:
		return ""
	}
}
