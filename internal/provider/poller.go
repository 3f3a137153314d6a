package provider

import (
	"log"
	"sync"
	"time"
)

// Poller delivers change notifications for backends without filesystem
// events by sampling the document version at a fixed interval. A version
// different from the last seen one triggers a load and a callback; sample
// or load failures are logged and skipped, never surfaced.
type Poller struct {
	interval time.Duration
	version  func() (int64, error)
	load     func() (map[string]any, error)
	fn       ChangeFunc
	logger   *log.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// StartPoller begins sampling and returns the running poller. The first
// sample establishes the baseline version, so only changes after the
// start are delivered.
func StartPoller(interval time.Duration, version func() (int64, error), load func() (map[string]any, error), fn ChangeFunc, logger *log.Logger) *Poller {
	p := &Poller{
		interval: interval,
		version:  version,
		load:     load,
		fn:       fn,
		logger:   logger,
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *Poller) run() {
	defer p.wg.Done()

	last, err := p.version()
	if err != nil {
		p.logger.Printf("failed to read baseline version: %v", err)
		last = 0
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return

		case <-ticker.C:
			v, err := p.version()
			if err != nil {
				p.logger.Printf("failed to sample version: %v", err)
				continue
			}
			if v == last {
				continue
			}
			last = v

			data, err := p.load()
			if err != nil {
				p.logger.Printf("skipping change notification, load failed: %v", err)
				continue
			}
			p.fn(data)
		}
	}
}

// Stop halts sampling and blocks until the poll goroutine has exited.
func (p *Poller) Stop() {
	close(p.done)
	p.wg.Wait()
}
