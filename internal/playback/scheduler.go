package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/receptionist/internal/audio"
)

// Output is the playback graph the scheduler places chunks on.
type Output interface {
	SampleRate() int
	CurrentTime() time.Duration
	Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) (*audio.Voice, error)
}

// Scheduler plays model audio chunks back to back without gaps or overlap.
// Interrupt drops everything queued so the caller can barge in.
type Scheduler struct {
	out Output

	mu        sync.Mutex
	nextStart time.Duration
	active    map[*audio.Voice]struct{}
}

func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:       out,
		nextStart: out.CurrentTime(),
		active:    make(map[*audio.Voice]struct{}),
	}
}

// Enqueue decodes a PCM16 chunk and schedules it right after the previous one,
// or immediately if the queue has drained. It returns the chunk's start time.
func (s *Scheduler) Enqueue(pcm []byte) (time.Duration, error) {
	buf, err := audio.DecodeToBuffer(pcm, s.out.SampleRate(), 1)
	if err != nil {
		return 0, fmt.Errorf("decode playback chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.nextStart, s.out.CurrentTime())
	// The ended callback takes s.mu, so it cannot observe voice before it is tracked.
	var voice *audio.Voice
	voice, err = s.out.Schedule(buf, start, func() {
		s.mu.Lock()
		delete(s.active, voice)
		s.mu.Unlock()
	})
	if err != nil {
		return 0, fmt.Errorf("schedule playback chunk: %w", err)
	}
	s.active[voice] = struct{}{}
	s.nextStart = start + buf.Duration()
	return start, nil
}

// Interrupt stops every active chunk and resets the timeline. Stopping a chunk
// that already finished is harmless.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := make([]*audio.Voice, 0, len(s.active))
	for v := range s.active {
		voices = append(voices, v)
	}
	s.active = make(map[*audio.Voice]struct{})
	s.nextStart = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Active returns the number of chunks scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
