// Package selector decides which repositories a scheduler tick should scan:
// frequency-due filtering, priority ordering, and the nightly bound.
package selector

import (
	"sort"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/registry"
)

// Selection is the work chosen for one tick: per-repository scans plus the
// inter-project groups whose members are all selected.
type Selection struct {
	Repositories []registry.Repository
	Groups       []registry.RepositoryGroup
}

type Selector struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Selector {
	return &Selector{reg: reg}
}

// Select produces the ordered, bounded candidate list for "now".
func (s *Selector) Select(now time.Time) Selection {
	cfg := s.reg.ScanConfig()

	var due []registry.Repository
	for _, repo := range s.reg.GetEnabled() {
		if frequencyDue(repo.ScanFrequency, now, cfg) {
			due = append(due, repo)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		// Never-scanned repositories come first, then oldest scans.
		switch {
		case a.LastScannedAt == nil && b.LastScannedAt != nil:
			return true
		case a.LastScannedAt != nil && b.LastScannedAt == nil:
			return false
		case a.LastScannedAt == nil && b.LastScannedAt == nil:
			return a.Name < b.Name
		default:
			return a.LastScannedAt.Before(*b.LastScannedAt)
		}
	})

	if cfg.MaxRepositoriesPerNight > 0 && len(due) > cfg.MaxRepositoriesPerNight {
		due = due[:cfg.MaxRepositoriesPerNight]
	}

	selected := make(map[string]bool, len(due))
	for _, repo := range due {
		selected[repo.Name] = true
	}

	var groups []registry.RepositoryGroup
	for _, g := range s.reg.Groups() {
		if !g.Enabled || g.ScanType != model.ScanKindInter {
			continue
		}
		all := len(g.Repositories) >= 2
		for _, name := range g.Repositories {
			if !selected[name] {
				all = false
				break
			}
		}
		if all {
			groups = append(groups, g)
		}
	}

	return Selection{Repositories: due, Groups: groups}
}

// frequencyDue reports whether a repository's cadence fires today. On-demand
// repositories are never picked by the selector.
func frequencyDue(f model.ScanFrequency, now time.Time, cfg registry.ScanConfig) bool {
	switch f {
	case model.FrequencyDaily:
		return true
	case model.FrequencyWeekly:
		return int(now.Weekday()) == cfg.WeeklyScanWeekday
	case model.FrequencyMonthly:
		return now.Day() == cfg.MonthlyScanDay
	default:
		return false
	}
}
