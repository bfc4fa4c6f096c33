package markers

import (
	"regexp"
	"sort"
)

type compiledAtomic struct {
	name     string
	patterns []*regexp.Regexp
}

// Pipeline is a compiled, immutable set of marker definitions. It is safe for
// concurrent use.
type Pipeline struct {
	atomic   []compiledAtomic
	composed []ComposedDefinition
	clusters []ClusterDefinition
}

var _ Source = (*Pipeline)(nil)

// Counts reports how many atomic, composed and cluster definitions are loaded.
func (p *Pipeline) Counts() (atomic, composed, clusters int) {
	return len(p.atomic), len(p.composed), len(p.clusters)
}

// Detect returns every atomic marker occurrence in text, ordered by position.
func (p *Pipeline) Detect(text string) []Match {
	var matches []Match

	for _, ato := range p.atomic {
		for _, re := range ato.patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				matches = append(matches, Match{
					Marker: ato.name,
					Start:  loc[0],
					End:    loc[1],
					Text:   text[loc[0]:loc[1]],
				})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}

		return matches[i].Marker < matches[j].Marker
	})

	return matches
}

// Compose derives the semantic markers activated by the atomic markers of one message.
func (p *Pipeline) Compose(atomic []Match) []Composed {
	present := make(map[string]struct{}, len(atomic))
	for _, match := range atomic {
		present[match.Marker] = struct{}{}
	}

	var composed []Composed

	for _, sem := range p.composed {
		from := presentOf(sem.ComposedOf, present)
		if !activated(sem, len(from)) {
			continue
		}

		composed = append(composed, Composed{Marker: sem.Name, From: from})
	}

	return composed
}

// AnalyzeConversation detects markers per message and derives cluster markers
// that depend on message order and sender alternation.
func (p *Pipeline) AnalyzeConversation(messages []Message) ConversationMarkers {
	result := ConversationMarkers{
		Messages: make([]MessageMarkers, 0, len(messages)),
		Clusters: []Cluster{},
	}

	for index, message := range messages {
		atomic := p.Detect(message.Text)
		result.Messages = append(result.Messages, MessageMarkers{
			Index:    index,
			Message:  message,
			Atomic:   atomic,
			Composed: p.Compose(atomic),
		})
	}

	for _, clu := range p.clusters {
		result.Clusters = append(result.Clusters, scanCluster(clu, result.Messages)...)
	}

	return result
}

func presentOf(constituents []string, present map[string]struct{}) []string {
	var from []string

	for _, name := range constituents {
		if _, ok := present[name]; ok {
			from = append(from, name)
		}
	}

	return from
}

func activated(sem ComposedDefinition, hits int) bool {
	switch sem.Activation {
	case ActivationAll:
		return hits == len(sem.ComposedOf)
	case ActivationAtLeast:
		return hits >= sem.Min
	default:
		return hits > 0
	}
}

// scanCluster slides a window over the messages. Each time the window holds
// enough carrying messages the cluster fires and scanning resumes after it.
func scanCluster(clu ClusterDefinition, messages []MessageMarkers) []Cluster {
	wanted := make(map[string]struct{}, len(clu.ComposedOf))
	for _, name := range clu.ComposedOf {
		wanted[name] = struct{}{}
	}

	var (
		fired []Cluster
		start int
	)

	for end := range messages {
		if end-start+1 > clu.Window {
			start = end - clu.Window + 1
		}

		carrying := carryingMessages(messages[start:end+1], wanted)
		if len(carrying) < clu.MinMessages {
			continue
		}

		if clu.Alternating && !multipleSenders(messages, carrying) {
			continue
		}

		fired = append(fired, Cluster{Marker: clu.Name, Messages: carrying})
		start = end + 1
	}

	return fired
}

func carryingMessages(window []MessageMarkers, wanted map[string]struct{}) []int {
	var indices []int

	for _, message := range window {
		if carries(message, wanted) {
			indices = append(indices, message.Index)
		}
	}

	return indices
}

func carries(message MessageMarkers, wanted map[string]struct{}) bool {
	for _, match := range message.Atomic {
		if _, ok := wanted[match.Marker]; ok {
			return true
		}
	}

	for _, sem := range message.Composed {
		if _, ok := wanted[sem.Marker]; ok {
			return true
		}
	}

	return false
}

func multipleSenders(messages []MessageMarkers, indices []int) bool {
	if len(indices) == 0 {
		return false
	}

	first := messages[indices[0]].Message.From
	for _, index := range indices[1:] {
		if messages[index].Message.From != first {
			return true
		}
	}

	return false
}
