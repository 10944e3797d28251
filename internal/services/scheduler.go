package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// SchedulerIntervals is the cadence of each background loop.
type SchedulerIntervals struct {
	Collection time.Duration
	Upload     time.Duration
	UserImport time.Duration
}

// Scheduler owns the background loops that drive the pipeline: device
// collection, batch upload and user import. It is the explicit start/stop
// task handle for those loops; each loop runs its cycle to completion before
// its next tick is consumed, so cycles never overlap within a loop.
type Scheduler struct {
	collector *CollectorService
	uploader  *UploaderService
	importer  *UserImporterService
	intervals SchedulerIntervals

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(collector *CollectorService, uploader *UploaderService, importer *UserImporterService, intervals SchedulerIntervals) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		collector: collector,
		uploader:  uploader,
		importer:  importer,
		intervals: intervals,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background loops. Loops whose service is absent are
// skipped (a deployment without a device integration still uploads).
func (s *Scheduler) Start() {
	if s.collector != nil {
		log.Printf("Starting collection loop with interval: %v", s.intervals.Collection)
		s.startLoop("collection", s.intervals.Collection, s.collector.Collect)
	}

	if s.uploader != nil {
		log.Printf("Starting upload loop with interval: %v", s.intervals.Upload)
		s.startLoop("upload", s.intervals.Upload, s.uploader.UploadData)
	}

	if s.importer != nil {
		log.Printf("Starting user import loop with interval: %v", s.intervals.UserImport)
		s.startLoop("user-import", s.intervals.UserImport, func() {
			if _, err := s.importer.ImportUsers(); err != nil {
				log.Printf("Error importing users: %v", err)
			}
		})
	}
}

// Stop cancels the loops and waits for in-flight cycles to finish. An upload
// cycle inside its reconciliation poll is not preempted; the poll deadline
// caps the wait.
func (s *Scheduler) Stop() {
	log.Println("Stopping scheduler")
	s.cancel()
	s.wg.Wait()

	if s.collector != nil {
		s.collector.Close()
	}
	log.Println("Scheduler stopped")
}

func (s *Scheduler) startLoop(name string, interval time.Duration, run func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in %s loop: %v", name, r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Initial run
		run()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
