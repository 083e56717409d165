package main

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/cwbudde/algo-sampler/dsp"
	"github.com/cwbudde/algo-sampler/sampler"
)

const channels = 2

type noteEvent struct {
	on       bool
	stopAll  bool
	note     int
	velocity int
}

// enginePlayer is the oto source. Read runs on oto's audio goroutine and is
// the only caller of the engine's real-time methods; other goroutines hand
// over note events through a buffered channel.
type enginePlayer struct {
	engine *sampler.Engine
	events chan noteEvent

	block      [][]float32
	interleave []float32

	ctx    *oto.Context
	player *oto.Player
	mu     sync.Mutex
}

func newEnginePlayer(e *sampler.Engine, blockSize int) *enginePlayer {
	return &enginePlayer{
		engine:     e,
		events:     make(chan noteEvent, 256),
		block:      dsp.MakeChannels(channels, blockSize),
		interleave: make([]float32, blockSize*channels),
	}
}

// start opens the output device and begins playback.
func (p *enginePlayer) start(sampleRate int, bufferSize time.Duration) error {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return err
	}
	<-ready

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.player = ctx.NewPlayer(p)
	p.player.SetBufferSize(int(float64(sampleRate)*bufferSize.Seconds()) * channels * 4)
	p.player.Play()
	return nil
}

func (p *enginePlayer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		p.player.Close()
		p.player = nil
	}
}

// send queues ev without blocking. Events are dropped when the audio
// goroutine falls far behind.
func (p *enginePlayer) send(ev noteEvent) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *enginePlayer) drain() {
	for {
		select {
		case ev := <-p.events:
			switch {
			case ev.stopAll:
				p.engine.StopAllVoices(true)
			case ev.on:
				p.engine.NoteOn(ev.note, ev.velocity)
			default:
				p.engine.NoteOff(ev.note)
			}
		default:
			return
		}
	}
}

// Read renders whole engine blocks into buf as float32 little-endian frames.
func (p *enginePlayer) Read(buf []byte) (int, error) {
	p.drain()

	frameBytes := channels * 4
	blockFrames := len(p.block[0])
	written := 0
	for written+frameBytes <= len(buf) {
		n := min(blockFrames, (len(buf)-written)/frameBytes)
		views := [channels][]float32{p.block[0][:n], p.block[1][:n]}
		p.engine.RenderBlock(views[:])
		dsp.Interleave(p.interleave[:n*channels], views[:])
		for _, s := range p.interleave[:n*channels] {
			binary.LittleEndian.PutUint32(buf[written:], math.Float32bits(s))
			written += 4
		}
	}
	return written, nil
}
