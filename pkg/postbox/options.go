package postbox

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/postbox/pkg/postbox/config"
	"github.com/randalmurphal/postbox/pkg/postbox/journal"
	"github.com/randalmurphal/postbox/pkg/postbox/observability"
)

// Option configures a Box.
type Option func(*Box)

// WithMatcher sets the pattern matcher used by the default registry.
// It has no effect when WithRegistry is also given.
func WithMatcher(m Matcher) Option {
	return func(b *Box) {
		if m != nil {
			b.matcher = m
		}
	}
}

// WithRegistry replaces the subscription registry.
func WithRegistry(r Registry) Option {
	return func(b *Box) {
		if r != nil {
			b.registry = r
		}
	}
}

// WithPublisher replaces the dispatch policy.
// Default: ParallelPublisher with unbounded concurrency.
func WithPublisher(p Publisher) Option {
	return func(b *Box) {
		if p != nil {
			b.publisher = p
		}
	}
}

// WithLogger sets the logger for bus traffic and callback failures.
// Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Box) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
//
// Example:
//
//	box := postbox.New(postbox.WithMetrics(true))
func WithMetrics(enabled bool) Option {
	return func(b *Box) {
		if enabled {
			b.metrics = observability.NewMetricsRecorder()
		} else {
			b.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans around each publish using the
// global tracer provider.
func WithTracing(enabled bool) Option {
	return func(b *Box) {
		if enabled {
			b.spans = observability.NewSpanManager()
		} else {
			b.spans = observability.NoopSpanManager{}
		}
	}
}

// WithJournal records every callback failure in j.
// The box takes ownership: Close closes the journal.
func WithJournal(j journal.Journal) Option {
	return func(b *Box) {
		b.journal = j
	}
}

// Configuration keys understood by OptionsFromConfig.
const (
	KeyPublisher        = "publisher"
	KeyMaxConcurrency   = "max_concurrency"
	KeyMatcherCacheSize = "matcher_cache_size"
	KeyMetrics          = "metrics"
	KeyTracing          = "tracing"
	KeyJournal          = "journal"
	KeyJournalSize      = "journal_size"
)

// OptionsFromConfig builds Box options from configuration.
//
//	publisher: parallel        # or "sequential"
//	max_concurrency: 8         # parallel only; 0 = unbounded
//	matcher_cache_size: 1024
//	metrics: true
//	tracing: false
//	journal: memory            # "", "memory", or a SQLite file path
//	journal_size: 500          # memory journal capacity
//
// A SQLite journal is opened immediately; close it through Box.Close.
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option

	switch name := cfg.String(KeyPublisher, "parallel"); name {
	case "parallel":
		opts = append(opts, WithPublisher(ParallelPublisher{
			MaxConcurrency: cfg.Int(KeyMaxConcurrency, 0),
		}))
	case "sequential":
		opts = append(opts, WithPublisher(SequentialPublisher{}))
	default:
		return nil, invalidArgument("unknown publisher %q", name)
	}

	if size := cfg.Int(KeyMatcherCacheSize, 0); size > 0 {
		opts = append(opts, WithMatcher(NewWildcardMatcher(size)))
	}

	opts = append(opts,
		WithMetrics(cfg.Bool(KeyMetrics, false)),
		WithTracing(cfg.Bool(KeyTracing, false)),
	)

	switch target := cfg.String(KeyJournal, ""); target {
	case "":
	case "memory":
		opts = append(opts, WithJournal(journal.NewMemoryJournal(cfg.Int(KeyJournalSize, 0))))
	default:
		j, err := journal.NewSQLiteJournal(target)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, WithJournal(j))
	}

	return opts, nil
}
