package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Path     string        `env:"SAMPLE_PATH"`
	Enabled  bool          `env:"SAMPLE_ENABLED"`
	Score    float64       `env:"SAMPLE_SCORE"`
	Size     int           `env:"SAMPLE_SIZE,required"`
	Interval time.Duration `env:"SAMPLE_INTERVAL"`
	Tags     []string      `env:"SAMPLE_TAGS"`
	Title    string        `env:"SAMPLE_TITLE"`
	ignored  string        `env:"SAMPLE_IGNORED"`
	NoTag    string
}

func TestMarshalEnv_SkipsZeroValues(t *testing.T) {
	out, err := MarshalEnv(&sample{Path: "/tmp/ctx", Size: 3})
	require.NoError(t, err)
	assert.Equal(t, "SAMPLE_PATH=/tmp/ctx\nSAMPLE_SIZE=3\n", out)
}

func TestMarshalEnv_AllKinds(t *testing.T) {
	s := &sample{
		Path:     "p",
		Enabled:  true,
		Score:    0.25,
		Size:     10,
		Interval: 1500 * time.Millisecond,
		Tags:     []string{"a", "b"},
		Title:    "two words",
		ignored:  "x",
		NoTag:    "y",
	}
	out, err := MarshalEnv(s)
	require.NoError(t, err)

	assert.Contains(t, out, "SAMPLE_ENABLED=true\n")
	assert.Contains(t, out, "SAMPLE_SCORE=0.25\n")
	assert.Contains(t, out, "SAMPLE_INTERVAL=1.5s\n")
	assert.Contains(t, out, "SAMPLE_TAGS=a,b\n")
	assert.Contains(t, out, "SAMPLE_TITLE=\"two words\"\n")
	assert.NotContains(t, out, "SAMPLE_IGNORED")
	assert.NotContains(t, out, "NoTag")
}

func TestMarshalEnv_WithZeroValuesAndHeader(t *testing.T) {
	out, err := MarshalEnv(&sample{}, WithZeroValues(), WithHeader("generated\nby test"))
	require.NoError(t, err)

	assert.Contains(t, out, "# generated\n# by test\n")
	assert.Contains(t, out, "SAMPLE_ENABLED=false\n")
	assert.Contains(t, out, "SAMPLE_SIZE=0\n")
}

func TestMarshalEnv_RejectsNonPointer(t *testing.T) {
	_, err := MarshalEnv(sample{})
	assert.ErrorIs(t, err, ErrNotStructPointer)
}
