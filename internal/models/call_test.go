package models

import (
	"encoding/json"
	"testing"
)

func TestSpeaker_Text(t *testing.T) {
	tests := []struct {
		speaker Speaker
		text    string
	}{
		{SpeakerAssistant, "assistant"},
		{SpeakerUser, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			raw, err := json.Marshal(tt.speaker)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(raw) != `"`+tt.text+`"` {
				t.Errorf("expected %q, got %s", tt.text, raw)
			}

			var got Speaker
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if got != tt.speaker {
				t.Errorf("expected %v, got %v", tt.speaker, got)
			}
		})
	}

	var s Speaker
	if err := json.Unmarshal([]byte(`"bot"`), &s); err == nil {
		t.Error("expected error for unknown speaker")
	}
}

func TestAnalysisResult_IsQualified(t *testing.T) {
	tests := []struct {
		name          string
		result        *AnalysisResult
		wantQualified bool
		wantOK        bool
	}{
		{"nil result", nil, false, false},
		{"no structured data", &AnalysisResult{Summary: "s"}, false, false},
		{"qualified", &AnalysisResult{Analysis: Analysis{StructuredData: map[string]any{"is_qualified": true}}}, true, true},
		{"not qualified", &AnalysisResult{Analysis: Analysis{StructuredData: map[string]any{"is_qualified": false}}}, false, true},
		{"wrong type", &AnalysisResult{Analysis: Analysis{StructuredData: map[string]any{"is_qualified": "yes"}}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, ok := tt.result.IsQualified()
			if q != tt.wantQualified || ok != tt.wantOK {
				t.Errorf("IsQualified() = (%v, %v), want (%v, %v)", q, ok, tt.wantQualified, tt.wantOK)
			}
		})
	}
}
