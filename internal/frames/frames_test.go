package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected []int
		hasError bool
	}{
		{"single frame", "5", []int{5}, false},
		{"simple range", "1-3", []int{1, 2, 3}, false},
		{"mixed tokens", "1-3,8,11-15", []int{1, 2, 3, 8, 11, 12, 13, 14, 15}, false},
		{"overlapping ranges deduplicate", "1-5,3-7", []int{1, 2, 3, 4, 5, 6, 7}, false},
		{"duplicate single frames", "4,4,4", []int{4}, false},
		{"first-seen order preserved", "10,1-3", []int{10, 1, 2, 3}, false},
		{"whitespace tolerated", " 1 - 3 , 8 ", []int{1, 2, 3, 8}, false},
		{"zero frame", "0", []int{0}, false},
		{"single frame range", "7-7", []int{7}, false},
		{"reversed range", "5-2", nil, true},
		{"empty expression", "", nil, true},
		{"whitespace only", "   ", nil, true},
		{"empty token", "1,,3", nil, true},
		{"trailing comma", "1,", nil, true},
		{"non-integer", "1-abc", nil, true},
		{"negative frame", "-3", nil, true},
		{"missing range end", "3-", nil, true},
		{"step syntax unsupported", "1-10:2", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.expr)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseErrorNamesToken(t *testing.T) {
	_, err := Parse("1-3,9-4")
	if err == nil {
		t.Fatal("expected error for reversed range")
	}
	assert.Contains(t, err.Error(), "9-4")
}
