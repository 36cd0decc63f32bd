package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"cloneio/pkg/aio"
	"cloneio/pkg/copyup"
	"cloneio/pkg/extent"
	"cloneio/pkg/helper/banner"
	"cloneio/pkg/helper/log"
	"cloneio/pkg/metrics"
	"cloneio/pkg/objectmap"
	"cloneio/pkg/objectstore"
	"cloneio/pkg/parent"
	"cloneio/pkg/resilience"
	"cloneio/pkg/scrub"
	"cloneio/pkg/workerpool"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		numObjects   int64
		numRequests  int
		parentBytes  int64
		hotCacheSize int
		noBanner     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the clone I/O engine against an in-memory object store",
		Long:  `Issues a mix of reads and writes through the AioRead/AioWrite state machines against a fresh clone backed by a synthetic parent image, reporting a summary of what happened`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noBanner {
				banner.Version = version
				banner.GitCommit = gitCommit
				banner.BuildTime = buildTime
				banner.Print()
			}

			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			registry := metrics.NewRegistry()
			ictx, om, store := buildImageContext(logger, registry, numObjects, parentBytes, hotCacheSize)

			var scrubber *scrub.Scrubber
			if cfg.Scrub.Enabled {
				scrubber = scrub.New(om, cfg.Scrub.StalePendingAfter, registry, logger, func(so scrub.StaleObject) {
					logger.WithField("object", so.ObjectNo).Warn("scrub found object stuck in PENDING")
				})
				if err := scrubber.Start(cfg.Scrub.Schedule); err != nil {
					return fmt.Errorf("starting scrubber: %w", err)
				}
				defer scrubber.Stop()
			}

			summary := driveWorkload(ctx, logger, ictx, store, numObjects, numRequests)
			printSummary(summary)
			return nil
		},
	}

	cmd.Flags().Int64Var(&numObjects, "objects", 64, "Number of distinct backing objects in the image")
	cmd.Flags().IntVar(&numRequests, "requests", 2000, "Total number of read/write requests to issue")
	cmd.Flags().Int64Var(&parentBytes, "parent-bytes", 4<<20, "Bytes of synthetic parent data per object overlap (0 disables the parent)")
	cmd.Flags().IntVar(&hotCacheSize, "hot-cache-size", 128, "Entries in the object store's recently-written front cache (0 disables it)")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "Disable ASCII banner on startup")

	return cmd
}

// buildImageContext wires the same components an image open would:
// object store, object map, parent view, extent mapper and copyup
// coordinator, all sharing one metrics registry.
func buildImageContext(logger log.Logger, registry *metrics.Registry, numObjects, parentBytes int64, hotCacheSize int) (*aio.ImageContext, *objectmap.Map, *objectstore.MemStore) {
	resilien := resilience.NewManager(logger)
	seedResilience(resilien)

	store := objectstore.NewMemStore(hotCacheSize, resilien, registry, logger)
	om := objectmap.New(numObjects, registry)

	overlaps := map[parent.SnapID]int64{}
	if parentBytes > 0 {
		overlaps[parent.HeadSnapID] = parentBytes
	}
	pv := parent.NewStaticView(parentBytes > 0, overlaps)

	layout := extent.Layout{
		ObjectSizeBytes: cfg.Stripe.ObjectSizeBytes,
		StripeUnit:      cfg.Stripe.StripeUnit,
		StripeCount:     cfg.Stripe.StripeCount,
	}
	mapper, err := extent.NewStripeMapper(layout)
	if err != nil {
		logger.Fatal("invalid stripe layout", err)
	}

	oid := func(objectNo int64) string {
		return fmt.Sprintf("rbd_data.bench.%016x", objectNo)
	}
	cc := copyup.NewCoordinator(store, oid, registry, logger)

	parentSeed := make([]byte, layout.ObjectSizeBytes)
	rand.New(rand.NewSource(42)).Read(parentSeed)

	ictx := &aio.ImageContext{
		Store:     store,
		ObjectMap: om,
		Parent:    pv,
		Mapper:    mapper,
		Copyup:    cc,
		OID:       oid,
		ParentRead: func(ctx context.Context, imageExtents extent.Vector) ([]byte, error) {
			total := imageExtents.TotalLength()
			buf := make([]byte, total)
			var off int64
			for _, e := range imageExtents {
				n := copy(buf[off:off+e.Length], parentSeed[e.Offset%layout.ObjectSizeBytes:])
				off += int64(n)
			}
			return buf, nil
		},
		CopyOnRead:  cfg.Clone.CopyOnRead,
		CopyOnWrite: cfg.Clone.CopyOnWrite,
		ReadOnly:    cfg.Clone.ReadOnly,
		Metrics:     registry,
		Logger:      logger,
	}
	return ictx, om, store
}

// seedResilience pre-creates the object store's rate limiter and circuit
// breaker entries from the configured settings, so the first real call
// through ExecuteWithResilience finds them already tuned rather than
// falling back to DefaultRateLimiterSettings/DefaultCircuitBreakerSettings.
func seedResilience(resilien *resilience.Manager) {
	rlSettings := resilience.RateLimiterSettings{
		RequestsPerSecond: cfg.Resilience.RequestsPerSecond,
		BurstSize:         cfg.Resilience.BurstSize,
		WaitTimeout:       5 * time.Second,
	}
	cbSettings := resilience.DefaultCircuitBreakerSettings("")
	cbSettings.MinRequests = uint32(cfg.Resilience.CircuitBreakerFailures)
	cbSettings.Timeout = cfg.Resilience.CircuitBreakerCooldown

	for _, name := range []string{"memstore.read", "memstore.sparse_read", "memstore.operate"} {
		resilien.RateLimiters().GetOrCreate(name, rlSettings)
		resilien.CircuitBreakers().GetOrCreate(name, cbSettings)
	}
}

type workloadSummary struct {
	reads, writes   int64
	readErrs        int64
	writeErrs       int64
	bytesRead       int64
	bytesWritten    int64
	copyupsObserved int
	elapsed         time.Duration
}

// driveWorkload issues numRequests reads and writes spread across
// numObjects objects through a bounded worker pool, then waits for every
// request's completion before returning.
func driveWorkload(ctx context.Context, logger log.Logger, ictx *aio.ImageContext, store *objectstore.MemStore, numObjects int64, numRequests int) workloadSummary {
	pool := workerpool.New(workerpool.Config{
		MinWorkers: cfg.Workers.CopyupWorkers,
		MaxWorkers: cfg.Workers.CopyupWorkers,
		QueueDepth: cfg.Workers.QueueDepth,
	}, logger)
	if err := pool.Start(); err != nil {
		logger.Error("failed to start worker pool", err)
	}
	defer pool.Stop()

	var summary workloadSummary
	var wg sync.WaitGroup
	src := rand.New(rand.NewSource(7))
	start := time.Now()

	for i := 0; i < numRequests; i++ {
		objectNo := src.Int63n(numObjects)
		offset := src.Int63n(cfg.Stripe.ObjectSizeBytes - 64)
		isWrite := src.Intn(3) != 0 // 2/3 writes, 1/3 reads: clone workloads skew write-heavy

		wg.Add(1)
		job := workerpool.Job{
			ID:             fmt.Sprintf("req-%d", i),
			SubmissionTime: time.Now(),
			Task: func(ctx context.Context) error {
				defer wg.Done()
				if isWrite {
					issueWrite(ctx, ictx, objectNo, offset, src, &summary)
				} else {
					issueRead(ctx, ictx, objectNo, offset, &summary)
				}
				return nil
			},
		}
		if err := pool.Submit(job); err != nil {
			wg.Done()
			logger.WithField("job_id", job.ID).Warn("failed to submit job")
		}
	}

	wg.Wait()
	summary.elapsed = time.Since(start)
	summary.copyupsObserved = countMaterialisedObjects(store, numObjects)
	return summary
}

func issueWrite(ctx context.Context, ictx *aio.ImageContext, objectNo, offset int64, src *rand.Rand, summary *workloadSummary) {
	payload := make([]byte, 32+src.Intn(32))
	src.Read(payload)

	done := make(chan struct{})
	var n int64
	var werr error
	w := aio.NewWrite(ctx, ictx, objectNo, offset, payload, objectstore.SnapContext{}, func(gotN int64, err error) {
		n, werr = gotN, err
		close(done)
	})
	w.Send()
	<-done

	atomic.AddInt64(&summary.writes, 1)
	if werr != nil {
		atomic.AddInt64(&summary.writeErrs, 1)
		return
	}
	atomic.AddInt64(&summary.bytesWritten, n)
}

func issueRead(ctx context.Context, ictx *aio.ImageContext, objectNo, offset int64, summary *workloadSummary) {
	done := make(chan struct{})
	var n int64
	var rerr error
	r := aio.NewRead(ctx, ictx, objectNo, offset, 32, parent.HeadSnapID, true, false, func(gotN int64, err error) {
		n, rerr = gotN, err
		close(done)
	})
	r.Send()
	<-done

	atomic.AddInt64(&summary.reads, 1)
	if rerr != nil {
		atomic.AddInt64(&summary.readErrs, 1)
		return
	}
	atomic.AddInt64(&summary.bytesRead, n)
}

func countMaterialisedObjects(store *objectstore.MemStore, numObjects int64) int {
	count := 0
	for i := int64(0); i < numObjects; i++ {
		if store.Exists(fmt.Sprintf("rbd_data.bench.%016x", i)) {
			count++
		}
	}
	return count
}

func printSummary(s workloadSummary) {
	fmt.Println()
	fmt.Println("=== cloneio-bench summary ===")
	fmt.Printf("elapsed:              %s\n", s.elapsed)
	fmt.Printf("writes issued:        %d (errors: %d)\n", s.writes, s.writeErrs)
	fmt.Printf("reads issued:         %d (errors: %d)\n", s.reads, s.readErrs)
	fmt.Printf("bytes written:        %d\n", s.bytesWritten)
	fmt.Printf("bytes read:           %d\n", s.bytesRead)
	fmt.Printf("objects materialised: %d\n", s.copyupsObserved)
	if s.elapsed > 0 {
		total := s.writes + s.reads
		fmt.Printf("throughput:           %.0f req/s\n", float64(total)/s.elapsed.Seconds())
	}
}
