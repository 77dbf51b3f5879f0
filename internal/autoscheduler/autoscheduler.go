// Package autoscheduler implements the Autoscheduler (C6): a periodic
// tick that discovers live/upcoming broadcasts, filters them against the
// stored AutoRule set, and emits new waiting Jobs for anything not
// already tracked (spec.md §4.3). The Run/TickOnce split — a ticker loop
// around one deterministic, independently-testable pass — is grounded on
// internal/domain/session/manager.Sweeper's Run/SweepOnce shape.
package autoscheduler

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/holostream/archivist/internal/discovery"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

// defaultInterval is spec.md §4.3's "default 180 s" tick period.
const defaultInterval = 180 * time.Second

// Scheduler runs the periodic autoscheduler tick.
type Scheduler struct {
	Store     store.Store
	Discovery discovery.Client
	Interval  time.Duration

	// OnScheduled, if set, is called for each newly-emitted job (the
	// process bootstrap hooks the websocket hub's "job_scheduled"
	// broadcast, the Discord notification and the bus publish here; the
	// lifecycle engine picks new jobs up from the store on its own tick).
	OnScheduled func(*model.Job)
}

// Run starts the ticker loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.L().Info().Dur("interval", s.Interval).Msg("autoscheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.TickOnce(ctx); err != nil {
				log.L().Warn().Err(err).Msg("autoscheduler tick failed")
				metrics.AutoschedulerTick.WithLabelValues("error").Inc()
			}
		}
	}
}

// TickOnce performs exactly one autoscheduler pass, per spec.md §4.3's
// seven steps. It is deterministic given its inputs and safe to call
// directly from tests.
func (s *Scheduler) TickOnce(ctx context.Context) error {
	rules, err := s.Store.ListAutoRules(ctx)
	if err != nil {
		return fmt.Errorf("autoscheduler: list rules: %w", err)
	}

	var include, exclude []*model.AutoRule
	for _, r := range rules {
		if r.Include {
			include = append(include, r)
		} else {
			exclude = append(exclude, r)
		}
	}
	if len(include) == 0 {
		log.L().Info().Msg("autoscheduler: no include rules, nothing to schedule")
		metrics.AutoschedulerTick.WithLabelValues("skipped").Inc()
		return nil
	}

	existingJobs, err := s.Store.ListJobs(ctx, true)
	if err != nil {
		return fmt.Errorf("autoscheduler: list existing jobs: %w", err)
	}
	existingIDs := make(map[string]struct{}, len(existingJobs))
	for _, j := range existingJobs {
		existingIDs[j.ID] = struct{}{}
	}

	videos, err := s.Discovery.Discover(ctx)
	if err != nil {
		return fmt.Errorf("autoscheduler: discover: %w", err)
	}

	matcher := newMatcher()

	var survivors []model.Video
	for _, v := range videos {
		if matcher.matchesAny(exclude, v) {
			continue
		}
		survivors = append(survivors, v)
	}

	var selected []model.Video
	for _, v := range survivors {
		if matcher.includeMatches(include, v) {
			selected = append(selected, v)
		}
	}

	emitted := 0
	for _, v := range selected {
		if _, exists := existingIDs[v.ID]; exists {
			continue
		}
		job := &model.Job{
			ID:         v.ID,
			Title:      v.Title,
			Filename:   model.ComputeFilename(v.ID, v.Title, v.StartTime, v.Platform),
			ChannelID:  v.ChannelID,
			MemberOnly: v.IsMember,
			StartTime:  v.StartTime,
			Platform:   v.Platform,
			Status:     model.StatusWaiting,
		}
		if _, err := s.Store.UpsertJob(ctx, job); err != nil {
			log.L().Warn().Err(err).Str("id", v.ID).Msg("autoscheduler: failed to emit job")
			continue
		}
		existingIDs[v.ID] = struct{}{}
		emitted++
		if s.OnScheduled != nil {
			s.OnScheduled(job)
		}
	}

	if emitted > 0 {
		metrics.AutoschedulerJobsEmitted.Add(float64(emitted))
		log.L().Info().Int("count", emitted).Msg("autoscheduler: emitted new jobs")
		metrics.AutoschedulerTick.WithLabelValues("matched").Inc()
	} else {
		metrics.AutoschedulerTick.WithLabelValues("skipped").Inc()
	}

	return nil
}

// matcher holds the case/width-folding caser and a regex cache, reused
// across a single tick's exclude and include passes.
type matcher struct {
	fold    cases.Caser
	regexes map[string]*regexp.Regexp
}

func newMatcher() *matcher {
	return &matcher{fold: cases.Fold(), regexes: make(map[string]*regexp.Regexp)}
}

// normalize folds full-width characters to their half-width equivalents
// before case-folding, so a rule written in ASCII still matches a title
// using full-width punctuation/letters (and vice versa) — a real pattern
// in VTuber stream titles originating from Japanese input methods.
func (m *matcher) normalize(s string) string {
	return m.fold.String(width.Fold.String(s))
}

func (m *matcher) regex(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.regexes[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	m.regexes[pattern] = re
	return re, nil
}

// matchOne reports whether a single rule (ignoring its chains) matches v.
func (m *matcher) matchOne(r *model.AutoRule, v model.Video) bool {
	switch r.Type {
	case model.RuleTypeChannel:
		return r.Data == v.ChannelID
	case model.RuleTypeGroup:
		return v.Org != "" && m.normalize(r.Data) == m.normalize(v.Org)
	case model.RuleTypeWord:
		return strings.Contains(m.normalize(v.Title), m.normalize(r.Data))
	case model.RuleTypeRegexWord:
		re, err := m.regex(r.Data)
		if err != nil {
			log.L().Warn().Err(err).Str("pattern", r.Data).Msg("autoscheduler: invalid regex rule, skipping")
			return false
		}
		return re.MatchString(v.Title)
	default:
		return false
	}
}

// chainsMatch reports whether every chain entry of r also matches v;
// spec.md §3: chains are an intersection, meaningful only for word and
// regex_word whitelist rules.
func (m *matcher) chainsMatch(r *model.AutoRule, v model.Video) bool {
	for _, c := range r.Chains {
		chainRule := &model.AutoRule{Type: c.Type, Data: c.Data}
		if !m.matchOne(chainRule, v) {
			return false
		}
	}
	return true
}

// matchesAny reports whether v matches any rule in rules (used for the
// exclude pass, which is a plain union with no chain semantics).
func (m *matcher) matchesAny(rules []*model.AutoRule, v model.Video) bool {
	for _, r := range rules {
		if m.matchOne(r, v) {
			return true
		}
	}
	return false
}

// includeMatches reports whether v matches at least one include rule and,
// for word/regex_word rules carrying chains, every chain entry too.
func (m *matcher) includeMatches(rules []*model.AutoRule, v model.Video) bool {
	for _, r := range rules {
		if !m.matchOne(r, v) {
			continue
		}
		if !m.chainsMatch(r, v) {
			continue
		}
		return true
	}
	return false
}
