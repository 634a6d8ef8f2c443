package scheduler

import (
	"math"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

const day = 24 * time.Hour

// Params tunes adaptive scheduling.
type Params struct {
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	FailureThreshold  int
	NoChangeThreshold int
	BusyThreshold     int
	// Jitter is the +/- fraction applied to every computed interval.
	Jitter           float64
	MinFrequencyDays float64
	MaxFrequencyDays float64
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{
		BaseBackoff:       30 * time.Minute,
		MaxBackoff:        7 * day,
		FailureThreshold:  5,
		NoChangeThreshold: 3,
		BusyThreshold:     10,
		Jitter:            0.15,
		MinFrequencyDays:  0.5,
		MaxFrequencyDays:  14,
	}
}

// Decision is the result of planning after one outcome.
type Decision struct {
	Update crawler.ScheduleUpdate
	// Interval is the jittered delay until the next run; zero when paused.
	Interval time.Duration
	// Paused is true when this outcome tripped the circuit breaker.
	Paused bool
}

// Plan computes the next scheduling state of src after outcome. rnd returns
// a value in [0, 1) and drives jitter. Plan is pure.
func Plan(src crawler.SourceConfig, outcome crawler.CrawlOutcome, now time.Time, p Params, rnd func() float64) Decision {
	upd := crawler.ScheduleUpdate{
		Status:              src.Status,
		CrawlFrequencyDays:  clampFreq(src.CrawlFrequencyDays, p),
		LastCrawledAt:       now,
		LastStatus:          outcome.Status,
		LastMessage:         outcome.Message,
		ConsecutiveFailures: src.ConsecutiveFailures,
		ConsecutiveNoChange: src.ConsecutiveNoChange,
	}
	if upd.Status == "" {
		upd.Status = crawler.SourceActive
	}

	var base time.Duration
	switch {
	case outcome.Status == crawler.OutcomeError && outcome.ConfigError:
		// Config problems are the admin's to fix; they do not feed the breaker.
		base = p.BaseBackoff
	case outcome.Status == crawler.OutcomeError:
		upd.ConsecutiveFailures++
		upd.ConsecutiveNoChange = 0
		if p.FailureThreshold > 0 && upd.ConsecutiveFailures >= p.FailureThreshold {
			upd.Status = crawler.SourcePaused
			upd.NextRunAt = nil
			return Decision{Update: upd, Paused: src.Status != crawler.SourcePaused}
		}
		base = Backoff(upd.ConsecutiveFailures, p)
	default:
		upd.ConsecutiveFailures = 0
		if outcome.Changed() >= p.BusyThreshold && p.BusyThreshold > 0 {
			upd.CrawlFrequencyDays = clampFreq(upd.CrawlFrequencyDays-1, p)
		}
		if outcome.Status == crawler.OutcomeNoChange {
			upd.ConsecutiveNoChange++
			// Every run at or past the threshold slows the source by a day.
			if p.NoChangeThreshold > 0 && upd.ConsecutiveNoChange >= p.NoChangeThreshold {
				upd.CrawlFrequencyDays = clampFreq(upd.CrawlFrequencyDays+1, p)
			}
		} else {
			upd.ConsecutiveNoChange = 0
		}
		base = time.Duration(upd.CrawlFrequencyDays * float64(day))
	}

	if upd.Status != crawler.SourceActive {
		// Manual runs of a paused source never re-arm it.
		upd.NextRunAt = nil
		return Decision{Update: upd}
	}
	interval := jitter(base, p.Jitter, rnd)
	if outcome.Status == crawler.OutcomeError && p.MaxBackoff > 0 && interval > p.MaxBackoff {
		interval = p.MaxBackoff
	}
	next := now.Add(interval)
	upd.NextRunAt = &next
	return Decision{Update: upd, Interval: interval}
}

// Backoff is the un-jittered error delay after failures consecutive
// failures: base * 2^failures, capped at MaxBackoff.
func Backoff(failures int, p Params) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := float64(p.BaseBackoff) * math.Pow(2, float64(failures))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// InitialFrequency picks the base crawl frequency for an organization category.
func InitialFrequency(category string, byCategory map[string]float64, fallback float64, p Params) float64 {
	if f, ok := byCategory[category]; ok && f > 0 {
		return clampFreq(f, p)
	}
	return clampFreq(fallback, p)
}

func clampFreq(f float64, p Params) float64 {
	if p.MinFrequencyDays > 0 && f < p.MinFrequencyDays {
		return p.MinFrequencyDays
	}
	if p.MaxFrequencyDays > 0 && f > p.MaxFrequencyDays {
		return p.MaxFrequencyDays
	}
	return f
}

func jitter(d time.Duration, fraction float64, rnd func() float64) time.Duration {
	if fraction <= 0 || rnd == nil {
		return d
	}
	factor := 1 + fraction*(2*rnd()-1)
	return time.Duration(float64(d) * factor)
}
