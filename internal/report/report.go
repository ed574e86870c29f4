// Package report renders finished scan results into artifacts under the data
// directory. Renderers run in parallel; a renderer failure is a warning, not
// a scan failure.
package report

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/clonehoundhq/clonehound/internal/config"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/storage"
)

// Renderer produces one artifact for a scan result inside dir and returns
// its path.
type Renderer interface {
	Format() string
	Render(ctx context.Context, result *model.ScanResult, dir string) (string, error)
}

// Coordinator fans a scan result out to the configured renderers.
type Coordinator struct {
	store     *storage.Storage
	renderers []Renderer
	logger    *log.Logger
}

// New builds the coordinator from the report configuration. Formats without
// a built-in renderer must name an external command in cfg.Renderers.
func New(store *storage.Storage, cfg config.ReportConfig, logger *log.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.Default()
	}
	renderers := make([]Renderer, 0, len(cfg.Formats))
	for _, format := range cfg.Formats {
		switch format {
		case "json":
			renderers = append(renderers, jsonRenderer{})
		case "markdown":
			renderers = append(renderers, markdownRenderer{})
		case "summary":
			renderers = append(renderers, summaryRenderer{})
		default:
			command, ok := cfg.Renderers[format]
			if !ok {
				return nil, fmt.Errorf("report format %q has no renderer command", format)
			}
			renderers = append(renderers, &ExecRenderer{Name: format, Command: command})
		}
	}
	return &Coordinator{store: store, renderers: renderers, logger: logger}, nil
}

// Render writes every configured artifact for the result and returns the
// paths that succeeded. Individual renderer errors are logged and skipped;
// only failing to create the report directory is fatal.
func (c *Coordinator) Render(ctx context.Context, result *model.ScanResult) ([]string, error) {
	if len(c.renderers) == 0 {
		return nil, nil
	}
	dir, err := c.store.ReportDir(result.ScanID)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		format string
		path   string
		err    error
	}
	outcomes := make([]outcome, len(c.renderers))
	var wg sync.WaitGroup
	for i, r := range c.renderers {
		wg.Add(1)
		go func(i int, r Renderer) {
			defer wg.Done()
			path, err := r.Render(ctx, result, dir)
			outcomes[i] = outcome{format: r.Format(), path: path, err: err}
		}(i, r)
	}
	wg.Wait()

	paths := make([]string, 0, len(outcomes))
	for _, out := range outcomes {
		if out.err != nil {
			c.logger.Printf("report %s: %s renderer failed: %v", result.ScanID, out.format, out.err)
			continue
		}
		paths = append(paths, out.path)
	}
	c.logger.Printf("report %s: wrote %d of %d artifacts to %s", result.ScanID, len(paths), len(c.renderers), dir)
	return paths, nil
}
