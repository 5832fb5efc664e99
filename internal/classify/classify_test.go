// SPDX-License-Identifier: MIT

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/tickd/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    types.Labels
	}{
		{
			name:    "neutral default",
			message: "how do I change my avatar?",
			want:    types.Labels{Urgency: types.UrgencyLow, Sentiment: types.SentimentNeutral},
		},
		{
			name:    "refund is medium and actionable",
			message: "I would like a refund for my last order",
			want:    types.Labels{Urgency: types.UrgencyMedium, Sentiment: types.SentimentNeutral, RequiresAction: true},
		},
		{
			name:    "lawsuit escalates to high",
			message: "fix this or my lawyer files a LAWSUIT",
			want:    types.Labels{Urgency: types.UrgencyHigh, Sentiment: types.SentimentNeutral, RequiresAction: true},
		},
		{
			name:    "angry broken is negative",
			message: "I am so angry, the device arrived broken",
			want:    types.Labels{Urgency: types.UrgencyLow, Sentiment: types.SentimentNegative},
		},
		{
			name:    "case insensitive urgent",
			message: "URGENT: production is down",
			want:    types.Labels{Urgency: types.UrgencyHigh, Sentiment: types.SentimentNeutral, RequiresAction: true},
		},
		{
			name:    "positive sentiment",
			message: "thanks a lot, great support",
			want:    types.Labels{Urgency: types.UrgencyLow, Sentiment: types.SentimentPositive},
		},
		{
			name:    "high wins over medium",
			message: "refund me immediately",
			want:    types.Labels{Urgency: types.UrgencyHigh, Sentiment: types.SentimentNeutral, RequiresAction: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify("ignored subject", tc.message))
		})
	}
}

func TestSubjectCurrentlyIgnored(t *testing.T) {
	got := Classify("URGENT lawsuit refund", "everything is fine")
	assert.Equal(t, types.DefaultLabels(), got)
}

func TestDeterministic(t *testing.T) {
	a := Classify("", "urgent refund, angry customer")
	b := Classify("", "urgent refund, angry customer")
	assert.Equal(t, a, b)
}
