package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/bot"
)

// Recorder persists bot events and forwards the stored entries to sinks,
// such as the live event feed.
type Recorder struct {
	store *Store
	log   *logrus.Entry
	sinks []func(Entry)
}

// NewRecorder creates a Recorder. store may be nil, in which case entries
// are only forwarded.
func NewRecorder(store *Store, log *logrus.Entry, sinks ...func(Entry)) *Recorder {
	return &Recorder{store: store, log: log, sinks: sinks}
}

// Observe implements bot.Observer. Storage failures are logged only.
func (r *Recorder) Observe(ctx context.Context, e bot.Event) {
	entry := FromEvent(e)
	if r.store != nil {
		stored, err := r.store.Log(context.WithoutCancel(ctx), entry)
		if err != nil {
			r.log.WithError(err).WithField("kind", e.Kind).Warn("failed to record audit entry")
		}
		entry = stored
	}
	for _, sink := range r.sinks {
		sink(entry)
	}
}
