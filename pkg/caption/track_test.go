package caption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTrack = `WEBVTT

0:00:00.000 --> 0:00:02.000
A

0:00:02.000 --> 0:00:04.000
B

0:00:05.500 --> 0:00:07,250
line one
line two
`

func TestParse_Cues(t *testing.T) {
	require := require.New(t)

	track := Parse(sampleTrack)
	require.Equal(3, track.Len())

	// Multi-line text joined with newline; comma millis accepted.
	text, ok := track.TextAt(6 * time.Second)
	require.True(ok)
	require.Equal("line one\nline two", text)
}

func TestTextAt_Boundaries(t *testing.T) {
	track := Parse(sampleTrack)

	tests := []struct {
		name string
		at   time.Duration
		want string
		ok   bool
	}{
		{"inside first cue", 1500 * time.Millisecond, "A", true},
		{"boundary belongs to later cue", 2 * time.Second, "B", true},
		{"past last cue", 10 * time.Second, "", false},
		{"gap between cues", 4500 * time.Millisecond, "", false},
		{"cue end inclusive", 4 * time.Second, "B", true},
		{"exact start", 0, "A", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := track.TextAt(tt.at)
			if ok != tt.ok || got != tt.want {
				t.Errorf("TextAt(%v) = %q, %v; want %q, %v", tt.at, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParse_SkipsBadBlocks(t *testing.T) {
	require := require.New(t)

	track := Parse(`garbage header

not a timestamp --> still not
X

0:00:01.000 --> 0:00:02.000
kept

0:00:03.000
missing arrow
`)

	require.Equal(1, track.Len())
	text, ok := track.TextAt(1500 * time.Millisecond)
	require.True(ok)
	require.Equal("kept", text)
}

func TestParse_SortsOutOfOrderCues(t *testing.T) {
	require := require.New(t)

	track := Parse(`0:00:04.000 --> 0:00:06.000
later

0:00:00.000 --> 0:00:02.000
earlier
`)

	text, ok := track.TextAt(time.Second)
	require.True(ok)
	require.Equal("earlier", text)

	text, ok = track.TextAt(5 * time.Second)
	require.True(ok)
	require.Equal("later", text)
}

func TestParse_Empty(t *testing.T) {
	track := Parse("")
	if track.Len() != 0 {
		t.Fatalf("expected empty track, got %d cues", track.Len())
	}
	if _, ok := track.TextAt(0); ok {
		t.Error("empty track must return no text")
	}
}
