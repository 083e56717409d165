package main

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/cwbudde/algo-sampler/catalog"
)

type eventKind int

const (
	eventNoteOn eventKind = iota
	eventNoteOff
	eventStopAll
)

type event struct {
	at       float64 // seconds
	kind     eventKind
	note     int
	velocity int
	seq      int
}

// score is a time-ordered list of engine events and the render length.
type score struct {
	events []event
	length float64
}

func (s *score) add(ev event) {
	ev.seq = len(s.events)
	s.events = append(s.events, ev)
	if ev.at > s.length {
		s.length = ev.at
	}
}

func (s *score) sort() {
	sort.SliceStable(s.events, func(i, j int) bool {
		if s.events[i].at != s.events[j].at {
			return s.events[i].at < s.events[j].at
		}
		return s.events[i].seq < s.events[j].seq
	})
}

// singleNote plays note for hold seconds and leaves tail seconds for the
// release.
func singleNote(note, velocity int, hold, tail float64) *score {
	s := &score{}
	s.add(event{at: 0, kind: eventNoteOn, note: note, velocity: velocity})
	s.add(event{at: hold, kind: eventNoteOff, note: note})
	s.length = hold + tail
	return s
}

// loadScript runs a Lua file that schedules events through these globals:
//
//	note(t, key, velocity, duration)
//	on(t, key, velocity)
//	off(t, key)
//	stop(t)
//	length(seconds)
//
// Keys are MIDI numbers or note names such as "C4" or "F#3".
func loadScript(path string) (*score, error) {
	L := lua.NewState()
	defer L.Close()

	s := &score{}
	explicitLength := -1.0

	L.SetGlobal("note", L.NewFunction(func(L *lua.LState) int {
		at := checkTime(L, 1)
		key := checkNote(L, 2)
		vel := L.OptInt(3, 100)
		dur := float64(L.OptNumber(4, 1))
		s.add(event{at: at, kind: eventNoteOn, note: key, velocity: vel})
		s.add(event{at: at + dur, kind: eventNoteOff, note: key})
		return 0
	}))
	L.SetGlobal("on", L.NewFunction(func(L *lua.LState) int {
		s.add(event{at: checkTime(L, 1), kind: eventNoteOn, note: checkNote(L, 2), velocity: L.OptInt(3, 100)})
		return 0
	}))
	L.SetGlobal("off", L.NewFunction(func(L *lua.LState) int {
		s.add(event{at: checkTime(L, 1), kind: eventNoteOff, note: checkNote(L, 2)})
		return 0
	}))
	L.SetGlobal("stop", L.NewFunction(func(L *lua.LState) int {
		s.add(event{at: checkTime(L, 1), kind: eventStopAll})
		return 0
	}))
	L.SetGlobal("length", L.NewFunction(func(L *lua.LState) int {
		explicitLength = checkTime(L, 1)
		return 0
	}))

	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("run script %s: %w", path, err)
	}
	if len(s.events) == 0 {
		return nil, fmt.Errorf("script %s scheduled no events", path)
	}
	s.sort()
	if explicitLength >= 0 {
		s.length = explicitLength
	}
	return s, nil
}

func checkTime(L *lua.LState, idx int) float64 {
	t := float64(L.CheckNumber(idx))
	if t < 0 {
		L.ArgError(idx, "time must be >= 0")
	}
	return t
}

func checkNote(L *lua.LState, idx int) int {
	lv := L.CheckAny(idx)
	var note int
	switch v := lv.(type) {
	case lua.LNumber:
		note = int(v)
	case lua.LString:
		note = catalog.ParseNoteName(string(v))
	default:
		L.ArgError(idx, "note must be a number or a note name")
	}
	if note < 0 || note > 127 {
		L.ArgError(idx, fmt.Sprintf("invalid note %s", lv.String()))
	}
	return note
}
