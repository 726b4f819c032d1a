// Package grblsim simulates a Grbl controller on an in-memory stream.
package grblsim

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/mastercactapus/wellcnc/gcode"
	"github.com/mastercactapus/wellcnc/machine"
)

// Banner is sent on startup and after a soft reset.
const Banner = "Grbl 1.1h ['$' for help]"

// Options configures a Sim.
type Options struct {
	// Rate is the rapid speed in mm/s. Zero makes every move instant.
	Rate float64

	// Limits enables soft limits. A move outside them raises ALARM:2.
	Limits *machine.Config

	// Home is the machine position after `$H`.
	Home coord.Point

	// RequireHoming starts the controller locked in an alarm state.
	RequireHoming bool

	// Legacy reports status in the 0.9 format.
	Legacy bool
}

// Sim is a simulated Grbl controller. It implements io.ReadWriteCloser and
// is safe for concurrent use.
type Sim struct {
	opts Options

	mx     sync.Mutex
	cond   *sync.Cond
	out    bytes.Buffer
	in     []byte
	closed bool
	mute   bool

	vm        *gcode.VM
	from, to  coord.Point
	moveStart time.Time
	moveDur   time.Duration
	alarm     bool

	lines []string
}

var _ io.ReadWriteCloser = (*Sim)(nil)

// New returns a simulator that has just printed its startup banner.
func New(opts Options) *Sim {
	s := &Sim{
		opts: opts,
		vm:   gcode.NewVM(),
	}
	s.cond = sync.NewCond(&s.mx)
	s.startup()
	return s
}

func (s *Sim) startup() {
	s.reply("")
	s.reply(Banner)
	if s.opts.RequireHoming {
		s.alarm = true
		s.reply("[MSG:'$H'|'$X' to unlock]")
	}
}

func (s *Sim) reply(line string) {
	s.out.WriteString(line + "\r\n")
	s.cond.Broadcast()
}

// Read blocks until output is available or the Sim is closed.
func (s *Sim) Read(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for s.out.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.out.Read(p)
}

// Write feeds bytes to the controller. Realtime commands are handled
// immediately, everything else line by line.
func (s *Sim) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	for _, ch := range p {
		switch ch {
		case '?':
			s.statusReport()
		case 0x18:
			s.softReset()
		case '\r', '\n':
			line := string(s.in)
			s.in = s.in[:0]
			s.processLine(line)
		default:
			s.in = append(s.in, ch)
		}
	}
	return len(p), nil
}

func (s *Sim) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// SetMute stops (or resumes) answering status queries.
func (s *Sim) SetMute(mute bool) {
	s.mx.Lock()
	s.mute = mute
	s.mx.Unlock()
}

// Lines returns every non-empty line received so far.
func (s *Sim) Lines() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.lines...)
}

// Position returns the current machine position.
func (s *Sim) Position() coord.Point {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.position(time.Now())
}

func (s *Sim) moving(now time.Time) bool {
	return now.Before(s.moveStart.Add(s.moveDur))
}

func (s *Sim) position(now time.Time) coord.Point {
	if s.moveDur == 0 {
		return s.to
	}
	t := float64(now.Sub(s.moveStart)) / float64(s.moveDur)
	return s.from.Lerp(s.to, t)
}

func (s *Sim) state(now time.Time) string {
	switch {
	case s.alarm:
		return machine.StatusAlarm
	case s.moving(now):
		return machine.StatusRun
	}
	return machine.StatusIdle
}

func (s *Sim) statusReport() {
	if s.mute {
		return
	}
	now := time.Now()
	p := s.position(now)
	if s.opts.Legacy {
		s.reply(fmt.Sprintf("<%s,MPos:%.3f,%.3f,%.3f,WPos:%.3f,%.3f,%.3f>", s.state(now), p.X, p.Y, p.Z, p.X, p.Y, p.Z))
		return
	}
	s.reply(fmt.Sprintf("<%s|MPos:%.3f,%.3f,%.3f|FS:0,0>", s.state(now), p.X, p.Y, p.Z))
}

func (s *Sim) softReset() {
	now := time.Now()
	if s.moving(now) {
		// position is lost when motion is aborted
		s.alarm = true
		s.reply("ALARM:3")
	}
	p := s.position(now)
	s.vm = gcode.NewVM()
	s.jump(p)
	s.in = s.in[:0]
	s.startup()
}

// jump sets the position without motion.
func (s *Sim) jump(p coord.Point) {
	s.from, s.to = p, p
	s.moveDur = 0
	s.vm.SetMPos(p)
}

func (s *Sim) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		s.reply("ok")
		return
	}
	s.lines = append(s.lines, line)

	if strings.HasPrefix(line, "$") {
		s.systemCommand(line)
		return
	}
	if s.alarm {
		s.reply("error:9")
		return
	}

	blocks, err := gcode.Parse(line)
	if err != nil || len(blocks) != 1 {
		s.reply("error:1")
		return
	}
	now := time.Now()
	if s.moving(now) {
		// one move at a time: finish the current move first
		s.jump(s.to)
	}
	prev := s.vm.MPos()
	if err = s.vm.Run(blocks[0]); err != nil {
		s.reply("error:20")
		return
	}
	target := s.vm.MPos()
	if !s.withinLimits(target) {
		s.vm.SetMPos(prev)
		s.alarm = true
		s.reply("ALARM:2")
		return
	}

	s.from, s.to = prev, target
	s.moveStart = now
	s.moveDur = 0
	if s.opts.Rate > 0 {
		s.moveDur = time.Duration(prev.Distance(target) / s.opts.Rate * float64(time.Second))
	}
	s.reply("ok")
}

func (s *Sim) withinLimits(p coord.Point) bool {
	l := s.opts.Limits
	if l == nil {
		return true
	}
	return l.X.Contains(p.X) && l.Y.Contains(p.Y) && l.Z.Contains(p.Z)
}

func (s *Sim) systemCommand(line string) {
	switch line {
	case "$H":
		s.jump(s.opts.Home)
		s.alarm = false
		s.reply("ok")
	case "$X":
		if s.alarm {
			s.reply("[MSG:Caution: Unlocked]")
		}
		s.alarm = false
		s.reply("ok")
	case "$$":
		s.reply("$0=10")
		s.reply("$10=1")
		s.reply("$20=0")
		s.reply("$22=1")
		s.reply("ok")
	case "$I":
		s.reply("[VER:1.1h.20190825:]")
		s.reply("ok")
	default:
		s.reply("error:3")
	}
}
