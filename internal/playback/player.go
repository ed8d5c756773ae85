package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/emby"
)

// RepeatMode mirrors the persisted repeat setting.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

const negotiateTimeout = 15 * time.Second

// Player owns the queue and drives the controller: it negotiates sessions,
// advances on track end, and exposes the queue-level operations the UI
// binds keys to.
type Player struct {
	negotiator *Negotiator
	controller *Controller

	mu      sync.Mutex
	queue   []emby.Item
	index   int
	shuffle bool
	repeat  RepeatMode
	// loading guards against overlapping PlayItem/Next/Previous calls while
	// a negotiation is in flight.
	loading bool

	onQueueChange func()
}

func NewPlayer(negotiator *Negotiator, controller *Controller) *Player {
	p := &Player{
		negotiator: negotiator,
		controller: controller,
		index:      -1,
	}
	controller.hooks.OnTrackEnded = p.advanceOnEnd
	controller.hooks.RepeatOne = func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.repeat == RepeatOne
	}
	return p
}

// OnQueueChange registers a callback fired after every queue mutation.
func (p *Player) OnQueueChange(fn func()) {
	p.mu.Lock()
	p.onQueueChange = fn
	p.mu.Unlock()
}

func (p *Player) notifyQueueChange() {
	p.mu.Lock()
	fn := p.onQueueChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Queue returns a copy of the queue and the current index.
func (p *Player) Queue() ([]emby.Item, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]emby.Item(nil), p.queue...), p.index
}

// Current returns the queue entry being played, if any.
func (p *Player) Current() (emby.Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index < 0 || p.index >= len(p.queue) {
		return emby.Item{}, false
	}
	return p.queue[p.index], true
}

func (p *Player) Shuffle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shuffle
}

func (p *Player) SetShuffle(on bool) {
	p.mu.Lock()
	p.shuffle = on
	p.mu.Unlock()
}

func (p *Player) Repeat() RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

func (p *Player) SetRepeat(mode RepeatMode) {
	p.mu.Lock()
	p.repeat = mode
	p.mu.Unlock()
}

// CycleRepeat steps off -> all -> one -> off and returns the new mode.
func (p *Player) CycleRepeat() RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = (p.repeat + 1) % 3
	return p.repeat
}

// PlayItem negotiates item and starts playing it. queueContext, when
// non-nil, becomes the new queue (e.g. the listing the item was picked
// from); otherwise the item joins the existing queue.
func (p *Player) PlayItem(ctx context.Context, item emby.Item, queueContext []emby.Item) {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		log.Debug().Str("item", item.ID).Msg("Ignoring play request while another is loading")
		return
	}
	p.loading = true
	p.mu.Unlock()

	go p.load(ctx, item, queueContext)
}

func (p *Player) load(ctx context.Context, item emby.Item, queueContext []emby.Item) {
	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	nctx, cancel := context.WithTimeout(ctx, negotiateTimeout)
	defer cancel()

	sess, err := p.negotiator.Negotiate(nctx, item)
	if err != nil {
		log.Error().Err(err).Str("item", item.ID).Msg("Stream negotiation failed")
		return
	}
	if sess == nil {
		log.Debug().Str("item", item.ID).Str("type", item.Type).Msg("Item is not playable audio")
		return
	}

	p.mu.Lock()
	p.queue, p.index = UpdateQueue(p.queue, p.index, sess.Item, queueContext)
	p.mu.Unlock()

	p.controller.LoadSession(sess)
	p.notifyQueueChange()
}

// Next advances the queue, honouring shuffle.
func (p *Player) Next(ctx context.Context) {
	p.step(ctx, true)
}

// Previous steps back in the queue, honouring shuffle.
func (p *Player) Previous(ctx context.Context) {
	p.step(ctx, false)
}

func (p *Player) step(ctx context.Context, forward bool) {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return
	}
	var track emby.Item
	var idx int
	var ok bool
	if forward {
		track, idx, ok = Next(p.queue, p.index, p.shuffle)
	} else {
		track, idx, ok = Previous(p.queue, p.index, p.shuffle)
	}
	if !ok {
		p.mu.Unlock()
		return
	}
	p.index = idx
	p.loading = true
	p.mu.Unlock()

	go p.loadAt(ctx, track, idx)
}

func (p *Player) loadAt(ctx context.Context, track emby.Item, idx int) {
	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	nctx, cancel := context.WithTimeout(ctx, negotiateTimeout)
	defer cancel()

	sess, err := p.negotiator.Negotiate(nctx, track)
	if err != nil || sess == nil {
		log.Warn().Err(err).Str("item", track.ID).Msg("Could not start next track")
		return
	}

	p.mu.Lock()
	if p.index == idx && idx < len(p.queue) {
		p.queue[idx] = sess.Item
	}
	p.mu.Unlock()

	p.controller.LoadSession(sess)
	p.notifyQueueChange()
}

// advanceOnEnd is the controller's track-ended hook. Repeat-one restarts
// are handled inside the controller; here only off/all differ: with repeat
// off, ending on the last non-shuffled track stops instead of wrapping.
func (p *Player) advanceOnEnd() {
	p.mu.Lock()
	atLast := !p.shuffle && p.index == len(p.queue)-1
	stop := p.repeat == RepeatOff && atLast
	p.mu.Unlock()

	if stop {
		p.controller.Stop()
		return
	}
	p.Next(context.Background())
}
