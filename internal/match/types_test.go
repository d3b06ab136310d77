package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandDifficulties(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"concrete set kept in order", []string{"medium", "easy"}, []string{"medium", "easy"}},
		{"any expands to all levels", []string{"any"}, []string{"easy", "medium", "hard"}},
		{"any merges with concrete", []string{"hard", "any"}, []string{"hard", "easy", "medium"}},
		{"duplicates dropped", []string{"easy", "easy", "medium"}, []string{"easy", "medium"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandDifficulties(tt.in))
		})
	}
}

func TestValidLanguage(t *testing.T) {
	assert.True(t, ValidLanguage("python"))
	assert.True(t, ValidLanguage("c++"))
	assert.False(t, ValidLanguage("cobol"))
	assert.False(t, ValidLanguage(""))
}

func TestValidDifficulty(t *testing.T) {
	assert.True(t, ValidDifficulty("easy"))
	assert.True(t, ValidDifficulty("any"))
	assert.False(t, ValidDifficulty("impossible"))
}

func TestMatchPeer(t *testing.T) {
	m := Match{ParticipantA: "alice", ParticipantB: "bob"}
	assert.Equal(t, "bob", m.Peer("alice"))
	assert.Equal(t, "alice", m.Peer("bob"))
	assert.True(t, m.Involves("alice"))
	assert.False(t, m.Involves("carol"))
}
