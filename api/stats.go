package api

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// APIStats tracks statistics for an API endpoint
type APIStats struct {
	Name          string
	Calls         int64
	Successes     int64
	Errors        int64
	RateLimitHits int64
	CacheHits     int64
	LastCall      time.Time
	LastSuccess   time.Time
	LastError     time.Time
	LastErrorMsg  string
	ConsecErrors  int // consecutive errors, drives backoff
}

// Stats tracks every API the client has talked to.
type Stats struct {
	mu        sync.RWMutex
	apis      map[string]*APIStats
	startTime time.Time
}

func NewStats() *Stats {
	return &Stats{
		apis:      make(map[string]*APIStats),
		startTime: time.Now(),
	}
}

// caller must hold lock
func (s *Stats) getOrCreate(name string) *APIStats {
	if api, ok := s.apis[name]; ok {
		return api
	}
	api := &APIStats{Name: name}
	s.apis[name] = api
	return api
}

// Get returns a copy of the stats for an API.
func (s *Stats) Get(name string) APIStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if api, ok := s.apis[name]; ok {
		return *api
	}
	return APIStats{Name: name}
}

// Uptime is the time since the stats were created.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// RecordCall records an API call attempt
func (s *Stats) RecordCall(name string) {
	s.mu.Lock()
	api := s.getOrCreate(name)
	api.Calls++
	api.LastCall = time.Now()
	s.mu.Unlock()
}

// RecordSuccess records a successful API call
func (s *Stats) RecordSuccess(name string) {
	s.mu.Lock()
	api := s.getOrCreate(name)
	api.Successes++
	api.LastSuccess = time.Now()
	api.ConsecErrors = 0
	s.mu.Unlock()
}

// RecordError records an API error
func (s *Stats) RecordError(name string, err error) {
	s.mu.Lock()
	api := s.getOrCreate(name)
	api.Errors++
	api.LastError = time.Now()
	api.LastErrorMsg = err.Error()
	api.ConsecErrors++
	s.mu.Unlock()
}

// RecordRateLimit records a rate limit hit
func (s *Stats) RecordRateLimit(name string) {
	s.mu.Lock()
	api := s.getOrCreate(name)
	api.RateLimitHits++
	api.ConsecErrors++
	s.mu.Unlock()
}

func (s *Stats) RecordCacheHit(name string) {
	s.mu.Lock()
	s.getOrCreate(name).CacheHits++
	s.mu.Unlock()
}

// Backoff returns how long to wait based on consecutive errors: 1s, 2s,
// 4s and so on up to max.
func (s *Stats) Backoff(name string, max time.Duration) time.Duration {
	s.mu.RLock()
	var consec int
	if api := s.apis[name]; api != nil {
		consec = api.ConsecErrors
	}
	s.mu.RUnlock()

	if consec == 0 || max <= 0 {
		return 0
	}
	if consec > 7 {
		return max
	}

	backoff := time.Duration(1<<uint(consec-1)) * time.Second
	if backoff > max {
		backoff = max
	}
	return backoff
}

// Summary returns a formatted summary of all API stats
func (s *Stats) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "📊 API Stats (uptime: %s)\n", formatDuration(time.Since(s.startTime)))

	names := make([]string, 0, len(s.apis))
	for name := range s.apis {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		api := s.apis[name]

		successRate := float64(0)
		if api.Calls > 0 {
			successRate = float64(api.Successes) / float64(api.Calls) * 100
		}

		fmt.Fprintf(&b, "\n%s\n", name)
		fmt.Fprintf(&b, "  Calls: %d (%.1f%% success)\n", api.Calls, successRate)

		if api.CacheHits > 0 {
			fmt.Fprintf(&b, "  Cache hits: %d\n", api.CacheHits)
		}
		if api.RateLimitHits > 0 {
			fmt.Fprintf(&b, "  Rate limits: %d\n", api.RateLimitHits)
		}
		if api.Errors > 0 {
			fmt.Fprintf(&b, "  Errors: %d", api.Errors)
			if api.ConsecErrors > 0 {
				fmt.Fprintf(&b, " (%d consecutive)", api.ConsecErrors)
			}
			b.WriteString("\n")
		}
		if !api.LastSuccess.IsZero() {
			fmt.Fprintf(&b, "  Last success: %s\n", FormatTimeAgo(api.LastSuccess))
		}
		if len(api.LastErrorMsg) > 0 {
			fmt.Fprintf(&b, "  Last error: %s\n", truncate(api.LastErrorMsg, 50))
		}
	}

	return b.String()
}

// FormatTimeAgo renders t relative to now.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	if d < time.Minute {
		return "just now"
	} else if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Format("Jan 2 15:04")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
