// Package markers provides the marker pipeline that turns free-form text into
// atomic markers (ATO_*), composed semantic markers (SEM_*) and, for whole
// conversations, cluster markers (CLU_*).
//
// Definitions are loaded from YAML once per process. The matching rules are
// intentionally simple: an atomic marker fires when any of its patterns
// matches, a composed marker fires when its activation rule over atomic
// markers of the same message is satisfied.
package markers

// Match is one atomic marker occurrence found in a message.
type Match struct {
	Marker string `json:"marker"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
}

// Composed is a semantic marker composed from atomic markers.
type Composed struct {
	Marker string   `json:"marker"`
	From   []string `json:"from"`
}

// Message is one conversation turn.
type Message struct {
	Text string `json:"text"`
	From string `json:"from"`
	// Timestamp is carried through as sent; any format is accepted.
	Timestamp string `json:"timestamp,omitempty"`
}

// MessageMarkers holds the marker sets detected for one message.
type MessageMarkers struct {
	Index    int        `json:"index"`
	Message  Message    `json:"message"`
	Atomic   []Match    `json:"atos"`
	Composed []Composed `json:"sems"`
}

// Cluster is a conversation-scoped marker derived from the ordering of messages.
type Cluster struct {
	Marker   string `json:"marker"`
	Messages []int  `json:"messages"`
}

// ConversationMarkers is the result of running the pipeline over a conversation.
type ConversationMarkers struct {
	Messages []MessageMarkers `json:"messages"`
	Clusters []Cluster        `json:"clus"`
}

// Source is the contract the emotion engine consumes. Both calls are pure.
type Source interface {
	Detect(text string) []Match
	Compose(atomic []Match) []Composed
}

// Names returns the distinct atomic marker names in first-seen order.
func Names(atomic []Match) []string {
	seen := make(map[string]struct{}, len(atomic))
	names := make([]string, 0, len(atomic))

	for _, match := range atomic {
		if _, ok := seen[match.Marker]; ok {
			continue
		}

		seen[match.Marker] = struct{}{}
		names = append(names, match.Marker)
	}

	return names
}

// ComposedNames returns the distinct composed marker names in first-seen order.
func ComposedNames(composed []Composed) []string {
	seen := make(map[string]struct{}, len(composed))
	names := make([]string, 0, len(composed))

	for _, sem := range composed {
		if _, ok := seen[sem.Marker]; ok {
			continue
		}

		seen[sem.Marker] = struct{}{}
		names = append(names, sem.Marker)
	}

	return names
}
