package main

// keyRow maps the home and upper letter rows to semitones like a piano:
// white keys on "asdfghjkl;'" and black keys on "wetyuop".
var keyRow = map[byte]int{
	'a': 0, 'w': 1, 's': 2, 'e': 3, 'd': 4, 'f': 5, 't': 6, 'g': 7,
	'y': 8, 'h': 9, 'u': 10, 'j': 11, 'k': 12, 'o': 13, 'l': 14, 'p': 15,
	';': 16, '\'': 17,
}

type commandKind int

const (
	cmdNone commandKind = iota
	cmdNote
	cmdOctaveDown
	cmdOctaveUp
	cmdVelocityDown
	cmdVelocityUp
	cmdStopAll
	cmdQuit
)

type command struct {
	kind commandKind
	note int
}

// keyboard turns raw terminal bytes into commands.
type keyboard struct {
	baseNote int
	velocity int
}

func newKeyboard(baseNote, velocity int) *keyboard {
	return &keyboard{baseNote: baseNote, velocity: velocity}
}

func (k *keyboard) handle(b byte) command {
	if off, ok := keyRow[b]; ok {
		note := k.baseNote + off
		if note < 0 || note > 127 {
			return command{}
		}
		return command{kind: cmdNote, note: note}
	}
	switch b {
	case 'z':
		if k.baseNote-12 >= 0 {
			k.baseNote -= 12
		}
		return command{kind: cmdOctaveDown}
	case 'x':
		if k.baseNote+12 <= 120 {
			k.baseNote += 12
		}
		return command{kind: cmdOctaveUp}
	case 'c':
		k.velocity = max(k.velocity-16, 1)
		return command{kind: cmdVelocityDown}
	case 'v':
		k.velocity = min(k.velocity+16, 127)
		return command{kind: cmdVelocityUp}
	case ' ':
		return command{kind: cmdStopAll}
	case 'q', 3, 4: // q, Ctrl-C, Ctrl-D
		return command{kind: cmdQuit}
	}
	return command{}
}
