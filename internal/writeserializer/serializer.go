// Package writeserializer implements the shared-pool write serializer
// described in spec §4.3: a bounded per-session FIFO plus an atomic
// work-in-progress counter, so at most one worker writes to a given
// session's socket at a time without a dedicated goroutine per
// session (unlike chat-service's hub.Client.WritePump, which this
// fabric deliberately does not reuse for that reason).
package writeserializer

import (
	"sync"
	"sync/atomic"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/log"
	"github.com/chatfabric/fabnode/internal/session"
)

// Metrics are the writeSerializer{sent,queued,dropped,errors,activeWriters}
// counters from spec §6.
type Metrics struct {
	Sent          atomic.Int64
	Queued        atomic.Int64
	Dropped       atomic.Int64
	Errors        atomic.Int64
	ActiveWriters atomic.Int32
}

// Pool is the shared worker pool draining per-session queues.
type Pool struct {
	tasks    chan *domain.Session
	registry *session.Registry
	metrics  *Metrics
	wg       sync.WaitGroup
}

// NewPool starts workers goroutines and returns the pool. The task
// channel is sized generously so that a burst of simultaneous
// 0->1 WIP transitions rarely has to fall back to an ad-hoc goroutine.
func NewPool(workers int, registry *session.Registry, metrics *Metrics) *Pool {
	p := &Pool{
		tasks:    make(chan *domain.Session, workers*4),
		registry: registry,
		metrics:  metrics,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for s := range p.tasks {
		p.drain(s)
	}
}

// Close stops accepting new drain tasks and waits for in-flight drains
// to finish. Queued-but-undrained frames on sessions that never got a
// final drain task are not flushed; callers should stop submitting new
// sends before calling Close.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

// Send implements spec §4.3's send(session, frame):
//  1. drop if the session is not live;
//  2. offer to the per-session queue, dropping on overflow;
//  3. fetch-and-increment the work-in-progress counter, submitting a
//     drain task only on the 0->1 transition.
func (p *Pool) Send(s *domain.Session, frame []byte) {
	if !s.IsLive() {
		p.metrics.Dropped.Add(1)
		return
	}

	select {
	case s.Queue <- frame:
	default:
		p.metrics.Dropped.Add(1)
		return
	}
	p.metrics.Queued.Add(1)

	if s.WIP.Add(1) == 1 {
		p.submit(s)
	}
}

func (p *Pool) submit(s *domain.Session) {
	select {
	case p.tasks <- s:
	default:
		// Pool saturated: run the drain on its own goroutine rather
		// than drop the work, since a dropped drain task would leave
		// the session's queued frames stuck forever.
		go p.drain(s)
	}
}

// drain is the per-session drain-task protocol from spec §4.3.
// Serialized per session by construction: only the goroutine that won
// the 0->1 WIP transition (or was handed the task by the pool) is
// ever draining a given session at once.
func (p *Pool) drain(s *domain.Session) {
	p.metrics.ActiveWriters.Add(1)
	defer p.metrics.ActiveWriters.Add(-1)

	missed := int32(1)
	for {
		for {
			frame, ok := poll(s.Queue)
			if !ok {
				break
			}
			if !s.IsLive() {
				p.registry.Remove(s)
				return
			}
			if err := s.Conn.WriteMessage(frame); err != nil {
				p.metrics.Errors.Add(1)
				log.L().Warn().Str(log.FieldSessionID, s.ID).Err(err).Msg("write serializer: socket write failed")
				s.Close()
				p.registry.Remove(s)
				return
			}
			p.metrics.Sent.Add(1)
		}

		missed = s.WIP.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func poll(q chan []byte) ([]byte, bool) {
	select {
	case v := <-q:
		return v, true
	default:
		return nil, false
	}
}
