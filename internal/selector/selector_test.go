package selector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/registry"
)

func buildRegistry(t *testing.T, doc registry.Document) *registry.Registry {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "repositories.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := registry.New(path, nil)
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

func repo(name string, prio model.Priority, freq model.ScanFrequency, enabled bool, last *time.Time) registry.Repository {
	return registry.Repository{
		Name:          name,
		Path:          "/repos/" + name,
		Priority:      prio,
		ScanFrequency: freq,
		Enabled:       enabled,
		LastScannedAt: last,
	}
}

// A Monday; the default weekly weekday is Monday and monthly day is 1.
var monday = time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)

func TestSelectFiltersByFrequency(t *testing.T) {
	reg := buildRegistry(t, registry.Document{
		Repositories: []registry.Repository{
			repo("daily", model.PriorityMedium, model.FrequencyDaily, true, nil),
			repo("weekly", model.PriorityMedium, model.FrequencyWeekly, true, nil),
			repo("monthly", model.PriorityMedium, model.FrequencyMonthly, true, nil),
			repo("ondemand", model.PriorityMedium, model.FrequencyOnDemand, true, nil),
			repo("disabled", model.PriorityMedium, model.FrequencyDaily, false, nil),
		},
	})

	got := New(reg).Select(monday)
	names := selectedNames(got)
	if len(names) != 2 || !names["daily"] || !names["weekly"] {
		t.Fatalf("selected %v, want daily and weekly on a Monday", names)
	}

	tuesday := monday.AddDate(0, 0, 1)
	got = New(reg).Select(tuesday)
	names = selectedNames(got)
	if len(names) != 1 || !names["daily"] {
		t.Fatalf("selected %v, want only daily on a Tuesday", names)
	}

	firstOfMonth := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
	got = New(reg).Select(firstOfMonth)
	if names = selectedNames(got); !names["monthly"] {
		t.Fatalf("selected %v, want monthly on day 1", names)
	}
}

func TestSelectOrdersByPriorityThenStaleness(t *testing.T) {
	old := monday.AddDate(0, 0, -7)
	older := monday.AddDate(0, 0, -30)
	reg := buildRegistry(t, registry.Document{
		Repositories: []registry.Repository{
			repo("med-old", model.PriorityMedium, model.FrequencyDaily, true, &old),
			repo("crit-recent", model.PriorityCritical, model.FrequencyDaily, true, &old),
			repo("high-never", model.PriorityHigh, model.FrequencyDaily, true, nil),
			repo("high-older", model.PriorityHigh, model.FrequencyDaily, true, &older),
		},
	})

	got := New(reg).Select(monday)
	want := []string{"crit-recent", "high-never", "high-older", "med-old"}
	if len(got.Repositories) != len(want) {
		t.Fatalf("got %d repos, want %d", len(got.Repositories), len(want))
	}
	for i, name := range want {
		if got.Repositories[i].Name != name {
			t.Fatalf("position %d = %s, want %s", i, got.Repositories[i].Name, name)
		}
	}
}

func TestSelectBoundsNightlyCount(t *testing.T) {
	doc := registry.Document{
		ScanConfig: registry.ScanConfig{MaxRepositoriesPerNight: 2},
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		doc.Repositories = append(doc.Repositories,
			repo(name, model.PriorityMedium, model.FrequencyDaily, true, nil))
	}
	reg := buildRegistry(t, doc)

	got := New(reg).Select(monday)
	if len(got.Repositories) != 2 {
		t.Fatalf("got %d repos, want bound of 2", len(got.Repositories))
	}
}

func TestSelectGroupsRequireAllMembersSelected(t *testing.T) {
	reg := buildRegistry(t, registry.Document{
		Repositories: []registry.Repository{
			repo("a", model.PriorityMedium, model.FrequencyDaily, true, nil),
			repo("b", model.PriorityMedium, model.FrequencyDaily, true, nil),
			repo("c", model.PriorityMedium, model.FrequencyOnDemand, true, nil),
		},
		RepositoryGroups: []registry.RepositoryGroup{
			{Name: "both-due", Repositories: []string{"a", "b"}, ScanType: model.ScanKindInter, Enabled: true},
			{Name: "partial", Repositories: []string{"a", "c"}, ScanType: model.ScanKindInter, Enabled: true},
			{Name: "disabled", Repositories: []string{"a", "b"}, ScanType: model.ScanKindInter, Enabled: false},
		},
	})

	got := New(reg).Select(monday)
	if len(got.Groups) != 1 || got.Groups[0].Name != "both-due" {
		t.Fatalf("groups = %+v, want only both-due", got.Groups)
	}
}

func selectedNames(s Selection) map[string]bool {
	names := make(map[string]bool, len(s.Repositories))
	for _, r := range s.Repositories {
		names[r.Name] = true
	}
	return names
}
