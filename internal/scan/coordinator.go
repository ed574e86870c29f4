package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/registry"
)

// ErrTooFewMembers means a repository group cannot produce a cross-repository
// analysis because fewer than two members were scannable.
var ErrTooFewMembers = errors.New("repository group needs at least two scannable members")

// ScanGroup runs a cross-repository analysis over a repository group. Blocks
// are collected per member, reusing each member's cached intra-repository
// scan when one is current, then grouped together so duplicates spanning
// repositories surface. Only groups touching two or more repositories are
// kept.
func (o *Orchestrator) ScanGroup(ctx context.Context, group registry.RepositoryGroup, report ProgressFunc) (*model.ScanResult, error) {
	if report == nil {
		report = func(string, int, string) {}
	}
	started := time.Now()
	scanID := newScanID()

	members := make([]registry.Repository, 0, len(group.Repositories))
	for _, name := range group.Repositories {
		repo, ok := o.reg.GetByName(name)
		if !ok {
			o.logger.Printf("scan %s: group %s member %s not in registry, skipping", scanID, group.Name, name)
			continue
		}
		members = append(members, repo)
	}

	var (
		all       []model.CodeBlock
		scanned   []string
		fromCache int
	)
	for i, repo := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		percent := 10 + 50*i/len(members)
		o.stage(scanID, group.Name, report, "collecting", percent, repo.Name)

		found, cached, err := o.memberBlocks(ctx, scanID, repo)
		if err != nil {
			o.logger.Printf("scan %s: group %s member %s failed: %v", scanID, group.Name, repo.Name, err)
			continue
		}
		if cached {
			fromCache++
		}
		all = append(all, found...)
		scanned = append(scanned, repo.Name)
	}

	if len(scanned) < 2 {
		err := fmt.Errorf("group %s: %w (got %d)", group.Name, ErrTooFewMembers, len(scanned))
		o.failScan(scanID, group.Name, err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.stage(scanID, group.Name, report, "analyzing", 70, fmt.Sprintf("%d blocks from %d repositories", len(all), len(scanned)))
	grouped, rejections := o.engine.Group(all)
	crossRepo := grouped[:0]
	for _, g := range grouped {
		if len(g.AffectedRepositories) > 1 {
			crossRepo = append(crossRepo, g)
		}
	}
	o.publishGroupEvents(scanID, group.Name, crossRepo, rejections)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.stage(scanID, group.Name, report, "suggesting", 90, fmt.Sprintf("%d cross-repository groups", len(crossRepo)))
	// The generator sees AffectedRepositories > 1 on every kept group, so the
	// cross-repository ROI uplift applies and no strategy is ever downgraded.
	suggestions := o.suggest.Generate(crossRepo)

	result := assemble(scanID, model.ScanKindInter, started, scanned, "", all, crossRepo, suggestions)

	o.logger.Printf("scan %s: group %s analyzed %d repositories (%d from cache), %d cross-repository groups",
		scanID, group.Name, len(scanned), fromCache, len(crossRepo))
	o.publishCompleted(result, group.Name)
	return result, nil
}

// memberBlocks returns the code blocks for one group member, preferring the
// member's cached scan at its current commit over a fresh extraction.
func (o *Orchestrator) memberBlocks(ctx context.Context, scanID string, repo registry.Repository) ([]model.CodeBlock, bool, error) {
	info, err := os.Stat(repo.Path)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, false, &RepositoryError{Name: repo.Name, Path: repo.Path, Err: err}
	}

	commit, bypass := o.resolveCommit(ctx, scanID, repo.Path)
	if o.cache != nil && commit != "" && !bypass {
		cached, hit, err := o.cache.Get(ctx, repo.Path, commit)
		switch {
		case err != nil:
			o.logger.Printf("scan %s: cache read for %s failed, extracting fresh: %v", scanID, repo.Name, err)
		case hit:
			o.publish(events.Event{
				Topic:      events.TopicCacheHit,
				ScanID:     cached.ScanID,
				Repository: repo.Name,
				Data:       map[string]any{"commit": commit},
			})
			return cached.Blocks, true, nil
		default:
			o.publish(events.Event{
				Topic:      events.TopicCacheMiss,
				ScanID:     scanID,
				Repository: repo.Name,
				Data:       map[string]any{"commit": commit},
			})
		}
	}

	matched, err := o.matcher.Scan(ctx, repo.Path)
	if err != nil {
		return nil, false, fmt.Errorf("pattern scan: %w", err)
	}
	matches := dropExcluded(matched.Matches, repo.ExcludePatterns)
	return o.extract.Extract(repo.Path, matches), false, nil
}

