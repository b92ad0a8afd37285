package conversation

import (
	"strings"

	"github.com/leadlineai/leadline/internal/message"
)

// Keyword groups behind the heuristic scores. They tune temperature and
// sentiment, they never gate state transitions.
var (
	buyingKeywords = []string{
		"price", "pricing", "cost", "quote", "buy", "purchase", "demo",
		"trial", "contract", "sign up", "interested", "when can", "how soon",
	}
	positiveKeywords = []string{
		"great", "thanks", "thank you", "perfect", "sounds good", "yes", "sure",
	}
	negativeKeywords = []string{
		"not interested", "stop", "unsubscribe", "too expensive", "no thanks", "cancel",
	}
)

// Compute derives a summary from the recent transcript window. Scores are
// clamped to 0..100.
func Compute(conversationID string, window []message.Message) Summary {
	s := Summary{
		ConversationID: conversationID,
		Sentiment:      "neutral",
	}

	var inbound, questions, positive, negative int
	var totalLen, buying int
	var lastInbound string
	for _, m := range window {
		if m.Direction != message.DirectionIn {
			continue
		}
		inbound++
		body := strings.ToLower(m.Body)
		totalLen += len(m.Body)
		lastInbound = m.Body
		for _, kw := range buyingKeywords {
			if strings.Contains(body, kw) {
				buying++
			}
		}
		for _, kw := range positiveKeywords {
			if strings.Contains(body, kw) {
				positive++
			}
		}
		for _, kw := range negativeKeywords {
			if strings.Contains(body, kw) {
				negative++
			}
		}
		for _, sentence := range splitSentences(m.Body) {
			if strings.HasSuffix(sentence, "?") {
				questions++
				s.OpenQuestions = append(s.OpenQuestions, sentence)
			}
		}
	}
	if inbound == 0 {
		return s
	}

	// Temperature: buying signals dominate, volume adds a little.
	s.Temperature = clampScore(buying*25 + inbound*5)

	// Engagement: message volume, average length, and question density.
	avgLen := totalLen / inbound
	s.Engagement = clampScore(inbound*10 + avgLen/10 + questions*15)

	switch {
	case negative > positive:
		s.Sentiment = "negative"
	case positive > 0:
		s.Sentiment = "positive"
	}

	s.Topic = topicOf(lastInbound)
	if len(s.OpenQuestions) > 5 {
		s.OpenQuestions = s.OpenQuestions[len(s.OpenQuestions)-5:]
	}
	return s
}

// topicOf keeps the first handful of words of the latest inbound message.
func topicOf(body string) string {
	words := strings.Fields(body)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

func splitSentences(body string) []string {
	var out []string
	var b strings.Builder
	for _, r := range body {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
