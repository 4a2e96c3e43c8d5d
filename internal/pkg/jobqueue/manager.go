package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/snippetstream/snippetstream/internal/pkg/database"
	"github.com/snippetstream/snippetstream/internal/pkg/env"
	"github.com/snippetstream/snippetstream/internal/pkg/mail"
	"github.com/snippetstream/snippetstream/internal/pkg/metrics/counter"
	"github.com/snippetstream/snippetstream/internal/pkg/payments"
	"github.com/snippetstream/snippetstream/internal/pkg/statistics"
)

const failureRetryInterval = 5 * time.Minute

// SubscriptionSweeper is the periodic expiration job the manager
// drives.
type SubscriptionSweeper interface {
	CheckExpiredSubscriptions() (int, error)
}

// Manager runs the background tasks: the subscription expiration sweep
// and the statistics cache refresh.
type Manager struct {
	sweeper       SubscriptionSweeper
	sweepInterval time.Duration
	statsTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global background task manager (singleton).
// The database must be set up before the first call.
func GetManager() *Manager {
	managerOnce.Do(func() {
		subs := payments.NewManager(payments.NewRepository(database.GetDB()))
		subs.SetNotifier(mail.ExpiryReminderMailer{})

		hours := env.GetEnvInt("SUBSCRIPTION_CHECK_INTERVAL_HOURS", 6)
		if hours < 1 {
			hours = 1
		}

		globalManager = NewManager(subs, time.Duration(hours)*time.Hour)
	})
	return globalManager
}

// NewManager creates a manager with an explicit sweeper and interval.
func NewManager(sweeper SubscriptionSweeper, sweepInterval time.Duration) *Manager {
	return &Manager{
		sweeper:       sweeper,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background workers. It is a no-op when already
// running.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting background tasks")

	m.wg.Add(1)
	go m.sweepWorker()

	m.statsTicker = time.NewTicker(5 * time.Minute)
	m.wg.Add(1)
	go m.statsWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop signals the workers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.statsTicker != nil {
		m.statsTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker runs the expiration sweep immediately on start, then on
// the configured interval. After a failed pass the next attempt runs
// sooner so a transient database problem does not leave expired
// subscriptions entitled for hours.
func (m *Manager) sweepWorker() {
	defer m.wg.Done()

	log.Infof("[JobQueue Manager] Started subscription sweep worker (interval: %s)", m.sweepInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Subscription sweep worker stopping")
			return
		case <-timer.C:
			next := m.sweepInterval
			if _, err := m.sweeper.CheckExpiredSubscriptions(); err != nil {
				log.Errorf("[JobQueue Manager] Subscription sweep error: %v", err)
				next = failureRetryInterval
			}
			timer.Reset(next)
		}
	}
}

// statsWorker keeps the cached landing page counters warm and drains
// the pending Redis view/export counters into the database.
func (m *Manager) statsWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Statistics worker stopping")
			return
		case <-m.statsTicker.C:
			statistics.UpdateCacheIfNeeded()
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}
