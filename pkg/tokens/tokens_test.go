package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "one byte", text: "a", want: 1},
		{name: "four bytes", text: "abcd", want: 1},
		{name: "five bytes", text: "abcde", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
		})
	}
}

func TestCount_Empty(t *testing.T) {
	assert.Equal(t, 0, Count(""))
}

func TestCounterType(t *testing.T) {
	var c Counter = Estimate
	assert.Equal(t, 2, c("12345678"))
}
