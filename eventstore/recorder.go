package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailpulse/mailpulse/imapclient"
)

const recorderQueueSize = 64

// Recorder persists the new-mail events of one account in the background.
// Handle is suitable as imapclient.Options.OnNewMail: it never blocks, and
// drops events when the queue is full.
type Recorder struct {
	store   *Store
	account string
	logger  zerolog.Logger

	queue chan imapclient.NewMailEvent
	done  chan struct{}
	once  sync.Once
}

// NewRecorder starts a recorder for acct. Close must be called to flush it.
func (s *Store) NewRecorder(acct string, logger *zerolog.Logger) *Recorder {
	r := &Recorder{
		store:   s,
		account: acct,
		logger:  zerolog.Nop(),
		queue:   make(chan imapclient.NewMailEvent, recorderQueueSize),
		done:    make(chan struct{}),
	}
	if logger != nil {
		r.logger = *logger
	}
	r.logger = r.logger.With().Str("component", "eventstore").Str("account", acct).Logger()
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := r.store.Record(ctx, r.account, ev); err != nil {
			r.logger.Error().Err(err).Msg("failed to record new mail event")
		}
		cancel()
	}
}

// Handle queues ev.
func (r *Recorder) Handle(ev imapclient.NewMailEvent) {
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn().Uint32("count", ev.Count).Msg("event queue full, dropping new mail event")
	}
}

// Close stops accepting events and waits until queued ones are written.
// Handle must not be called after Close.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.queue) })
	<-r.done
}
