// SPDX-License-Identifier: MIT

// Package classify derives urgency, sentiment and the requires-action flag
// from ticket text. It is a pure function behind a pluggable signature so the
// rule set can be swapped without touching the ingestion pipeline.
package classify

import (
	"strings"

	"github.com/ManuGH/tickd/internal/types"
)

// Classifier maps ticket text to derived labels.
type Classifier func(subject, message string) types.Labels

var (
	highUrgency   = []string{"urgent", "immediately", "asap", "critical", "lawsuit", "legal action", "outage"}
	mediumUrgency = []string{"refund", "charged twice", "cancel my subscription", "not working"}

	negativeWords = []string{"angry", "broken", "terrible", "worst", "frustrated", "unacceptable", "disappointed"}
	positiveWords = []string{"thank", "great", "love", "awesome", "appreciate"}

	actionWords = []string{"refund", "lawsuit", "urgent", "please help", "escalate"}
)

// Classify applies the default keyword rules. Matching is case-insensitive
// and inspects the message only; the subject is accepted for signature
// stability but currently ignored.
func Classify(subject, message string) types.Labels {
	_ = subject
	text := strings.ToLower(message)

	labels := types.DefaultLabels()

	for _, kw := range mediumUrgency {
		if strings.Contains(text, kw) {
			labels.Urgency = types.UrgencyMedium
			break
		}
	}
	for _, kw := range highUrgency {
		if strings.Contains(text, kw) {
			labels.Urgency = types.UrgencyHigh
			break
		}
	}

	for _, kw := range negativeWords {
		if strings.Contains(text, kw) {
			labels.Sentiment = types.SentimentNegative
			break
		}
	}
	if labels.Sentiment == types.SentimentNeutral {
		for _, kw := range positiveWords {
			if strings.Contains(text, kw) {
				labels.Sentiment = types.SentimentPositive
				break
			}
		}
	}

	for _, kw := range actionWords {
		if strings.Contains(text, kw) {
			labels.RequiresAction = true
			break
		}
	}

	return labels
}
