package ratelimiter

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/llmonpy/ratellmiter/pkg/logx"
	"github.com/llmonpy/ratellmiter/pkg/ratelog"
)

const (
	logDirEnvVar             = "RATELLMITER_LOGS"
	defaultLogDirectory      = "ratellmiter_logs"
	defaultServiceName       = "default"
	defaultRequestsPerMinute = 300
)

// Listener receives each retiring SecondBucket (not MinuteBucket)
// synchronously during a Monitor tick. The limiterName is a
// file-name-safe label (slashes replaced, see ratelog.SanitizeName).
// Listeners must not block significantly; any panic is recovered, logged,
// and swallowed.
type Listener func(limiterName string, bucket *SecondBucket)

// Monitor is the process-wide, 1 Hz driver that ticks every registered
// Limiter, rolls minute buckets over, and persists retiring buckets to the
// log. Access it through GetMonitor — limiters register themselves with it
// on construction.
type Monitor struct {
	mu             sync.Mutex
	limiters       []*Limiter
	byName         map[string]*Limiter
	defaultLimiter *Limiter
	secondIndex    int
	ticker         *time.Ticker
	stopCh         chan struct{}
	running        bool
	logDir         string
	writer         *ratelog.Writer
	listeners      []Listener
	log            *logx.Logger
}

var (
	singleton     *Monitor
	singletonOnce sync.Once
)

// GetMonitor returns the process-wide Monitor singleton, constructing it
// lazily on first access.
func GetMonitor() *Monitor {
	singletonOnce.Do(func() {
		singleton = newMonitor()
	})
	return singleton
}

func newMonitor() *Monitor {
	return &Monitor{
		byName: make(map[string]*Limiter),
		logDir: resolveLogDir(),
		log:    logx.NewLogger("monitor"),
	}
}

// resolveLogDir consults RATELLMITER_LOGS; its value is used only if the
// monitor has not been explicitly configured with a log directory.
func resolveLogDir() string {
	if v := os.Getenv(logDirEnvVar); v != "" {
		return v
	}
	return defaultLogDirectory
}

// SetLogDir overrides the monitor's log directory. Call before Start; it
// has no effect on an already-open log file.
func (m *Monitor) SetLogDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logDir = dir
}

// AddListener registers a listener to receive every retiring SecondBucket.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// register adds limiter to the monitor's registry. Called by NewLimiter.
// If the monitor is already running, the new limiter is seeded with a
// fresh MinuteBucket immediately so it can start issuing right away.
func (m *Monitor) register(l *Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limiters = append(m.limiters, l)
	m.byName[l.name] = l
	if m.running {
		now := time.Now()
		l.initMinuteBucket(now.Unix(), now.UTC().Format(time.RFC3339))
	}
}

// DefaultLimiter returns the monitor's lazily-constructed default limiter,
// named "default" and allowing 300 requests per minute. Nothing selects it
// automatically: a Wrapper always uses the Limiter it was built with.
func (m *Monitor) DefaultLimiter() *Limiter {
	m.mu.Lock()
	if m.defaultLimiter != nil {
		d := m.defaultLimiter
		m.mu.Unlock()
		return d
	}
	m.mu.Unlock()

	d := NewLimiter(m, defaultServiceName, defaultRequestsPerMinute)

	m.mu.Lock()
	m.defaultLimiter = d
	m.mu.Unlock()
	return d
}

// Limiter returns the limiter registered under name, if any.
func (m *Monitor) Limiter(name string) (*Limiter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byName[name]
	return l, ok
}

// Start seeds every registered limiter with a fresh MinuteBucket at index
// 0 and begins the 1 Hz tick loop. Start is idempotent.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}

	now := time.Now()
	startEpoch := now.Unix()
	startISO := now.UTC().Format(time.RFC3339)

	writer, err := ratelog.NewWriter(m.logDir, startEpoch)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("ratelimiter: start monitor: %w", err)
	}
	m.writer = writer

	for _, l := range m.limiters {
		l.initMinuteBucket(startEpoch, startISO)
	}

	// The buckets above are already seeded, so the first tick must be a
	// release; the rollover lands on the 60th tick.
	m.secondIndex = 1
	m.stopCh = make(chan struct{})
	m.ticker = time.NewTicker(time.Second)
	m.running = true
	m.mu.Unlock()

	go m.loop()
	m.log.Info("monitor started, logging to %s", m.logDir)
	return nil
}

func (m *Monitor) loop() {
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-m.ticker.C:
			m.tick(now)
		}
	}
}

// tick computes the second index modulo 60 before acting, so the first
// action of a new minute performs the rollover.
func (m *Monitor) tick(now time.Time) {
	m.mu.Lock()
	index := m.secondIndex
	m.secondIndex = (m.secondIndex + 1) % secondsPerMinute
	limiters := make([]*Limiter, len(m.limiters))
	copy(limiters, m.limiters)
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	writer := m.writer
	m.mu.Unlock()

	if index == 0 {
		iso := now.UTC().Format(time.RFC3339)
		epoch := now.Unix()
		for _, l := range limiters {
			retiring := l.RefreshMinute(epoch, iso)
			m.persist(writer, retiring)
		}
		return
	}

	for _, l := range limiters {
		retiring := l.ReleaseTickets()
		m.notifyListeners(listeners, ratelog.SanitizeName(l.Name()), retiring)
	}
}

func (m *Monitor) persist(writer *ratelog.Writer, mb *MinuteBucket) {
	if writer == nil || mb == nil {
		return
	}
	if err := writer.WriteRecord(minuteBucketToRecord(mb)); err != nil {
		m.log.Error("failed to persist minute bucket for %s: %v", mb.LimiterName, err)
	}
}

func (m *Monitor) notifyListeners(listeners []Listener, limiterName string, bucket *SecondBucket) {
	for _, listener := range listeners {
		m.safeNotify(listener, limiterName, bucket)
	}
}

func (m *Monitor) safeNotify(listener Listener, limiterName string, bucket *SecondBucket) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panicked for %s: %v", limiterName, r)
		}
	}()
	listener(limiterName, bucket)
}

// Stop cancels the tick loop, flushes every limiter's current MinuteBucket
// to the log, and marks the monitor inactive. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	ticker := m.ticker
	stopCh := m.stopCh
	limiters := make([]*Limiter, len(m.limiters))
	copy(limiters, m.limiters)
	writer := m.writer
	m.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stopCh != nil {
		close(stopCh)
	}

	for _, l := range limiters {
		l.mu.Lock()
		current := l.current
		l.mu.Unlock()
		m.persist(writer, current)
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			m.log.Error("failed to close log writer: %v", err)
		}
	}
	m.log.Info("monitor stopped")
}
