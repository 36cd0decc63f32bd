// Package scrub implements a periodic background scan of an image's
// object map, flagging objects stuck in PENDING past a configured
// threshold — the kind of object-map staleness a crashed or hung
// in-flight write can leave behind, which nothing in the request path
// itself ever resolves.
package scrub

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"cloneio/pkg/helper/log"
	"cloneio/pkg/metrics"
	"cloneio/pkg/objectmap"
)

// StaleObject is one object found stuck in PENDING past the configured
// threshold.
type StaleObject struct {
	ObjectNo int64
}

// Scrubber runs a cron-scheduled scan of an ObjectMap. It does not itself
// know how a stale object should be repaired (that depends on the image's
// lock-ownership and recovery policy, outside this package's concern); it
// only reports what it finds.
type Scrubber struct {
	objectMap         *objectmap.Map
	stalePendingAfter time.Duration
	metrics           *metrics.Registry
	logger            log.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	// pendingSince tracks, per object number, when this scrubber first
	// observed it in PENDING. An object seen PENDING across two
	// consecutive runs separated by at least stalePendingAfter is
	// reported stale.
	pendingSince map[int64]time.Time

	// existsSince tracks, per object number, when this scrubber first
	// observed it in EXISTS. An object seen EXISTS across two
	// consecutive runs separated by at least stalePendingAfter is
	// promoted to EXISTS_CLEAN, so later passes can skip re-confirming
	// it until something (a write) moves it off EXISTS_CLEAN again.
	existsSince map[int64]time.Time

	onStale func(StaleObject)
}

// New creates a Scrubber for objectMap. onStale is invoked for every
// object found stale on a run; it may be nil to just record metrics.
func New(objectMap *objectmap.Map, stalePendingAfter time.Duration, registry *metrics.Registry, logger log.Logger, onStale func(StaleObject)) *Scrubber {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &Scrubber{
		objectMap:         objectMap,
		stalePendingAfter: stalePendingAfter,
		metrics:           registry,
		logger:            logger,
		pendingSince:      make(map[int64]time.Time),
		existsSince:       make(map[int64]time.Time),
		onStale:           onStale,
	}
}

// Start schedules periodic runs per the given cron expression (e.g.
// "@every 5m") and returns once the schedule is registered; it does not
// block.
func (s *Scrubber) Start(schedule string) error {
	s.cron = cron.New()
	id, err := s.cron.AddFunc(schedule, func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-progress run to finish.
func (s *Scrubber) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce scans the object map once, synchronously, reporting every
// object that has now been seen PENDING across two runs at least
// stalePendingAfter apart. It also promotes objects seen EXISTS across two
// runs that far apart to EXISTS_CLEAN, so the next pass can skip
// re-confirming them (an EXISTS_CLEAN cell is left alone until a write
// moves it off that state again).
func (s *Scrubber) RunOnce(ctx context.Context) []StaleObject {
	snapshot := s.objectMap.Snapshot()
	now := time.Now()

	var stale []StaleObject
	seenPending := make(map[int64]struct{}, len(snapshot))
	seenExists := make(map[int64]struct{}, len(snapshot))

	for objectNo, state := range snapshot {
		objectNo := int64(objectNo)

		switch state {
		case objectmap.Pending:
			seenPending[objectNo] = struct{}{}

			since, tracked := s.pendingSince[objectNo]
			if !tracked {
				s.pendingSince[objectNo] = now
				continue
			}
			if now.Sub(since) >= s.stalePendingAfter {
				stale = append(stale, StaleObject{ObjectNo: objectNo})
			}

		case objectmap.Exists:
			seenExists[objectNo] = struct{}{}

			since, tracked := s.existsSince[objectNo]
			if !tracked {
				s.existsSince[objectNo] = now
				continue
			}
			if now.Sub(since) >= s.stalePendingAfter {
				expected := objectmap.Exists
				if _, err := s.objectMap.Update(objectNo, objectmap.ExistsClean, &expected); err != nil {
					s.logger.WithField("object", objectNo).WithError(err).Warn("failed to promote object to EXISTS_CLEAN")
				}
				delete(s.existsSince, objectNo)
			}

		case objectmap.ExistsClean:
			// Already confirmed by a prior pass; nothing to do until a
			// write moves it back to EXISTS or PENDING.
		}
	}

	// Objects no longer PENDING or EXISTS (resolved or promoted since the
	// last run) stop being tracked.
	for objectNo := range s.pendingSince {
		if _, ok := seenPending[objectNo]; !ok {
			delete(s.pendingSince, objectNo)
		}
	}
	for objectNo := range s.existsSince {
		if _, ok := seenExists[objectNo]; !ok {
			delete(s.existsSince, objectNo)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordScrubRun(len(stale))
	}
	if len(stale) > 0 {
		s.logger.WithField("stale_count", len(stale)).Warn("scrub found objects stuck in PENDING")
	}
	if s.onStale != nil {
		for _, so := range stale {
			s.onStale(so)
		}
	}
	return stale
}
