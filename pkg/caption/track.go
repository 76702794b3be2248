package caption

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cue is one timed caption: visible from Start through End inclusive.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Track is an immutable, time-ordered caption cue list supporting point
// queries at playback-tick frequency.
type Track struct {
	cues []Cue
}

// Parse loads a caption track from file contents. Blocks are separated by
// blank lines; each block's first line is a "start --> end" timestamp pair and
// the remaining lines are the cue text. Unparseable blocks are skipped.
func Parse(contents string) *Track {
	t := &Track{}

	contents = strings.ReplaceAll(contents, "\r\n", "\n")
	for _, block := range strings.Split(contents, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		start, end, ok := parseTimeRange(lines[0])
		if !ok {
			continue
		}
		t.cues = append(t.cues, Cue{
			Start: start,
			End:   end,
			Text:  strings.Join(lines[1:], "\n"),
		})
	}

	sort.SliceStable(t.cues, func(i, j int) bool {
		return t.cues[i].Start < t.cues[j].Start
	})
	return t
}

// Len returns the number of loaded cues.
func (t *Track) Len() int {
	return len(t.cues)
}

// TextAt returns the caption text visible at the given playback position.
// The match is the last cue whose start is at or before the position; its
// text is returned only while the position has not passed the cue's end.
func (t *Track) TextAt(at time.Duration) (string, bool) {
	// First cue strictly after the position; the candidate precedes it.
	idx := sort.Search(len(t.cues), func(i int) bool {
		return t.cues[i].Start > at
	}) - 1
	if idx < 0 {
		return "", false
	}
	if at > t.cues[idx].End {
		return "", false
	}
	return t.cues[idx].Text, true
}

// parseTimeRange parses a "start --> end" cue header line.
func parseTimeRange(line string) (start, end time.Duration, ok bool) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseTimestamp(strings.TrimSpace(parts[0]))
	if !ok {
		return 0, 0, false
	}
	end, ok = parseTimestamp(strings.TrimSpace(parts[1]))
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

// parseTimestamp parses H:MM:SS.mmm, accepting comma or dot before millis.
func parseTimestamp(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(strings.Replace(parts[2], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return d, true
}
