package catalog

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Extensions lists the audio file extensions picked up by ScanFolder.
var Extensions = []string{".wav", ".aif", ".aiff", ".flac", ".mp3"}

// HasAudioExtension reports whether name ends in one of Extensions,
// ignoring case.
func HasAudioExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName formats a MIDI note with sharps, e.g. 61 -> "C#4". It returns ""
// outside 0..127.
func NoteName(note int) string {
	if note < 0 || note > 127 {
		return ""
	}
	return noteNames[note%12] + strconv.Itoa(note/12-1)
}

// ParseNoteName converts names such as "C4", "G#6", "Db3" or "C-1" to a MIDI
// note number, with C4 = 60. Letters are case-insensitive. It returns -1 for
// malformed names and for notes outside 0..127.
func ParseNoteName(name string) int {
	if name == "" {
		return -1
	}

	var base int
	switch name[0] {
	case 'C', 'c':
		base = 0
	case 'D', 'd':
		base = 2
	case 'E', 'e':
		base = 4
	case 'F', 'f':
		base = 5
	case 'G', 'g':
		base = 7
	case 'A', 'a':
		base = 9
	case 'B', 'b':
		base = 11
	default:
		return -1
	}

	i := 1
	if i < len(name) {
		switch {
		case name[i] == '#':
			base++
			i++
		case (name[i] == 'b' || name[i] == 'B') && startsOctave(name[i+1:]):
			base--
			i++
		}
	}

	octave, ok := parseOctave(name[i:])
	if !ok {
		return -1
	}
	midi := (octave+1)*12 + base
	if midi < 0 || midi > 127 {
		return -1
	}
	return midi
}

// startsOctave reports whether s begins with an octave number.
func startsOctave(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	return s != "" && isDigit(s[0])
}

func parseOctave(s string) (int, bool) {
	digits := s
	if strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if !allDigits(digits) || len(digits) > 3 {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseFileName extracts note, velocity and round-robin index from a sample
// file name of the form NOTE_VELOCITY_RR[_anything].ext. The extension is
// everything after the last dot. Velocity must be 1..127 and the round-robin
// index at least 1.
func ParseFileName(fileName string) (note, velocity, roundRobin int, ok bool) {
	base := filepath.Base(fileName)
	if dot := strings.LastIndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}

	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return 0, 0, 0, false
	}

	note = ParseNoteName(parts[0])
	if note < 0 {
		return 0, 0, 0, false
	}

	velocity, ok = parseDecimal(parts[1])
	if !ok || velocity < 1 || velocity > 127 {
		return 0, 0, 0, false
	}

	roundRobin, ok = parseDecimal(parts[2])
	if !ok || roundRobin < 1 {
		return 0, 0, 0, false
	}
	return note, velocity, roundRobin, true
}

func parseDecimal(s string) (int, bool) {
	if !allDigits(s) {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
