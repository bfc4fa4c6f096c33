package service

import (
	"github.com/book-expert/audio-service/internal/emotion"
	"github.com/book-expert/audio-service/internal/markers"
	"github.com/book-expert/audio-service/internal/metrics"
)

// DefaultSender is used when a message names no sender.
const DefaultSender = "user"

// MessageAnalysis is the resolved emotion of one conversation turn.
type MessageAnalysis struct {
	Index int    `json:"index"`
	From  string `json:"from"`
	emotion.Result
}

// ConversationAnalysis holds per-message results and conversation-scope markers.
type ConversationAnalysis struct {
	Messages []MessageAnalysis `json:"messages"`
	Clusters []markers.Cluster `json:"clus"`
}

// Analyze resolves the dominant emotion of one message.
func (s *Service) Analyze(message, sender string) MessageAnalysis {
	if sender == "" {
		sender = DefaultSender
	}

	atomic := s.markers.Detect(message)
	result := emotion.Resolve(atomic, s.markers.Compose(atomic))

	metrics.EmotionResolved.WithLabelValues(result.Emotion.String()).Inc()

	return MessageAnalysis{From: sender, Result: result}
}

// AnalyzeConversation runs the marker pipeline over an ordered conversation.
func (s *Service) AnalyzeConversation(messages []markers.Message) ConversationAnalysis {
	for i := range messages {
		if messages[i].From == "" {
			messages[i].From = DefaultSender
		}
	}

	detected := s.markers.AnalyzeConversation(messages)

	analysis := ConversationAnalysis{
		Messages: make([]MessageAnalysis, 0, len(detected.Messages)),
		Clusters: detected.Clusters,
	}

	if analysis.Clusters == nil {
		analysis.Clusters = []markers.Cluster{}
	}

	for _, message := range detected.Messages {
		result := emotion.Resolve(message.Atomic, message.Composed)
		metrics.EmotionResolved.WithLabelValues(result.Emotion.String()).Inc()

		analysis.Messages = append(analysis.Messages, MessageAnalysis{
			Index:  message.Index,
			From:   message.Message.From,
			Result: result,
		})
	}

	return analysis
}
