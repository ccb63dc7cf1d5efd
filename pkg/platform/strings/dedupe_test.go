package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "empty stays empty", input: []string{}, want: []string{}},
		{name: "trims ids", input: []string{" U1", "U2 "}, want: []string{"U1", "U2"}},
		{name: "first occurrence wins", input: []string{"U2", "U1", "U2", "U3", "U1"}, want: []string{"U2", "U1", "U3"}},
		{name: "blank entries dropped", input: []string{"U1", "", "   ", "U2"}, want: []string{"U1", "U2"}},
		{name: "case sensitive", input: []string{"U1", "u1"}, want: []string{"U1", "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimCount(t *testing.T) {
	unique, duplicates := DedupeAndTrimCount([]string{"S1", " S2", "S1", "", "S2 ", "S3"})
	assert.Equal(t, []string{"S1", "S2", "S3"}, unique)
	assert.Equal(t, 2, duplicates)

	unique, duplicates = DedupeAndTrimCount(nil)
	assert.Nil(t, unique)
	assert.Zero(t, duplicates)
}

func TestDedupeAndTrimLower(t *testing.T) {
	got := DedupeAndTrimLower([]string{" Decide:Vehicle_Listing", "decide:vehicle_listing", "VIEW:QUEUE"})
	assert.Equal(t, []string{"decide:vehicle_listing", "view:queue"}, got)
	assert.Nil(t, DedupeAndTrimLower(nil))
}
