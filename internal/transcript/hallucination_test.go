package transcript

import (
	"testing"
	"time"
)

func TestIsHallucination(t *testing.T) {
	t.Parallel()

	f := NewFilter()

	tests := []struct {
		name     string
		text     string
		audioDur time.Duration
		want     bool
	}{
		{"normal command", "allume la lumière du salon", 2 * time.Second, false},
		{"short english command", "turn on the lights", 2 * time.Second, false},
		{"empty", "", time.Second, true},
		{"whitespace only", "   \t ", time.Second, true},
		{"punctuation only", "?! .", time.Second, true},
		{"two letters", "ok", time.Second, true},
		{"subtitle credit", "Sous-titres réalisés par la communauté", 3 * time.Second, true},
		{"amara artifact", "voir amara.org pour plus", 2 * time.Second, true},
		{"thanks for watching", "Merci d'avoir regardé cette vidéo", 2 * time.Second, true},
		{"music glyph", "la la la ♪", 2 * time.Second, true},
		{"ellipsis", "je crois que...", 2 * time.Second, true},
		{"impossible speaking rate", "un deux trois quatre cinq six sept huit neuf dix onze douze treize quatorze quinze", 2 * time.Second, true},
		{"rate rule skipped under one second", "un deux trois quatre cinq six sept huit", 900 * time.Millisecond, false},
		{"rate rule skipped when duration unknown", "un deux trois quatre cinq six sept huit neuf dix onze douze treize quatorze quinze", 0, false},
		{"repeated word loop", "oui oui oui oui oui non", 4 * time.Second, true},
		{"varied six words pass", "mets la radio dans la cuisine", 3 * time.Second, false},
		{"short repeat under six words", "oui oui oui", time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := f.IsHallucination(tt.text, tt.audioDur); got != tt.want {
				t.Fatalf("IsHallucination(%q, %v) = %v, want %v", tt.text, tt.audioDur, got, tt.want)
			}
		})
	}
}

func TestFilterCustomArtifacts(t *testing.T) {
	t.Parallel()

	f := NewFilter(WithArtifacts([]string{"banana"}))
	if !f.IsHallucination("there is a Banana here", 2*time.Second) {
		t.Fatal("custom artifact not matched")
	}
	if f.IsHallucination("sous-titres par la communauté", 2*time.Second) {
		t.Fatal("default artifact still active after override")
	}
}
