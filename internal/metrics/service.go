// Package metrics resolves journal quality indicators for enrichment. It
// wraps the easyscholar client with two cache layers: a per-run in-memory
// map so each distinct journal is queried once per run, and an optional
// persistent cache that survives runs.
package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/litstack/litreview/pkg/easyscholar"
)

// Cache persists journal metrics between runs. The store package provides
// the implementation; nil disables the layer.
type Cache interface {
	GetJournalMetrics(ctx context.Context, journal string, maxAge time.Duration) (map[string]string, bool, error)
	PutJournalMetrics(ctx context.Context, journal string, metrics map[string]string) error
}

// Config declares which indicators to fetch and how to label them in the
// report. Codes starting with "custom_" address user-defined easyscholar
// datasets by abbreviated name.
type Config struct {
	Codes         []string
	ColumnMapping map[string]string
	CacheMaxAge   time.Duration
}

// Column returns the report column for an indicator code.
func (c Config) Column(code string) string {
	if col, ok := c.ColumnMapping[code]; ok && col != "" {
		return col
	}
	return code
}

// Service answers journal metric lookups for one or more runs.
type Service struct {
	client easyscholar.Client
	cache  Cache
	cfg    Config

	mu     sync.Mutex
	mem    map[string]map[string]string
	flight singleflight.Group
}

// NewService builds a Service. cache may be nil.
func NewService(client easyscholar.Client, cache Cache, cfg Config) *Service {
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = 30 * 24 * time.Hour
	}
	return &Service{
		client: client,
		cache:  cache,
		cfg:    cfg,
		mem:    make(map[string]map[string]string),
	}
}

// Lookup returns the configured indicators for a journal, keyed by report
// column. A journal the API does not know, an API failure, or an empty
// journal name all yield the empty-valued column set, never an error: the
// record still gets its columns, just blank. Results are cached so repeat
// lookups within a run cost nothing.
func (s *Service) Lookup(ctx context.Context, journal string) map[string]string {
	if len(s.cfg.Codes) == 0 {
		return map[string]string{}
	}
	key := normalizeJournal(journal)
	if key == "" {
		return s.emptyResult()
	}

	s.mu.Lock()
	if cached, ok := s.mem[key]; ok {
		s.mu.Unlock()
		return clone(cached)
	}
	s.mu.Unlock()

	// Concurrent workers hitting the same journal before the memory entry
	// exists share one fetch instead of racing to the API.
	v, _, _ := s.flight.Do(key, func() (any, error) {
		s.mu.Lock()
		if cached, ok := s.mem[key]; ok {
			s.mu.Unlock()
			return cached, nil
		}
		s.mu.Unlock()

		result := s.fetch(ctx, key, journal)

		s.mu.Lock()
		s.mem[key] = result
		s.mu.Unlock()
		return result, nil
	})
	return clone(v.(map[string]string))
}

func (s *Service) fetch(ctx context.Context, key, journal string) map[string]string {
	if s.cache != nil {
		if m, ok, err := s.cache.GetJournalMetrics(ctx, key, s.cfg.CacheMaxAge); err != nil {
			zap.L().Warn("journal metrics cache read failed",
				zap.String("journal", journal), zap.Error(err))
		} else if ok {
			return m
		}
	}

	rank, err := s.client.GetPublicationRank(ctx, journal)
	if err != nil {
		zap.L().Warn("journal metrics lookup failed",
			zap.String("journal", journal), zap.Error(err))
		return s.emptyResult()
	}

	result := s.extract(rank)

	if s.cache != nil {
		if err := s.cache.PutJournalMetrics(ctx, key, result); err != nil {
			zap.L().Warn("journal metrics cache write failed",
				zap.String("journal", journal), zap.Error(err))
		}
	}
	return result
}

// extract maps an API payload onto the configured columns.
func (s *Service) extract(rank *easyscholar.PublicationRank) map[string]string {
	result := s.emptyResult()
	if rank == nil {
		return result
	}

	for _, code := range s.cfg.Codes {
		if strings.HasPrefix(code, "custom_") {
			continue
		}
		if v := rank.OfficialRank.Indicator(code); v != "" {
			result[s.cfg.Column(code)] = v
		}
	}

	if rank.CustomRank != nil {
		s.extractCustom(result, rank.CustomRank)
	}
	return result
}

func (s *Service) extractCustom(result map[string]string, cr *easyscholar.CustomRank) {
	byUUID := make(map[string]easyscholar.CustomDataset, len(cr.RankInfo))
	for _, ds := range cr.RankInfo {
		byUUID[ds.UUID] = ds
	}

	for _, entry := range cr.Rank {
		uuid, level, ok := strings.Cut(entry, "&&&")
		if !ok {
			continue
		}
		ds, ok := byUUID[uuid]
		if !ok {
			continue
		}
		code := "custom_" + ds.AbbName
		if !s.wantsCode(code) {
			continue
		}
		if text := ds.RankText(level); text != "" {
			result[s.cfg.Column(code)] = ds.AbbName + " " + text
		}
	}
}

func (s *Service) wantsCode(code string) bool {
	for _, c := range s.cfg.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// emptyResult returns every configured column mapped to "".
func (s *Service) emptyResult() map[string]string {
	out := make(map[string]string, len(s.cfg.Codes))
	for _, code := range s.cfg.Codes {
		out[s.cfg.Column(code)] = ""
	}
	return out
}

func normalizeJournal(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
