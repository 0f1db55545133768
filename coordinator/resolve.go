package coordinator

import (
	"context"
	"fmt"

	"github.com/relogdev/relog/cfg"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/source"
)

// resolvedTable is one concrete pipeline: the logical table name offsets
// and records are keyed by, the capture artifact the feed is opened with,
// and the position to start from when no offset is persisted.
type resolvedTable struct {
	table    string
	artifact string
	initial  common.Position
}

// resolveTables expands table configurations against the source catalog.
// Patterns fan out to every matching table; a table claimed by two
// configurations is a configuration error.
func (c *Coordinator) resolveTables(ctx context.Context) ([]resolvedTable, error) {
	catalog, err := c.opts.Feed.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing source tables: %w", err)
	}

	head, err := c.headPosition(ctx)
	if err != nil {
		return nil, err
	}

	var resolved []resolvedTable
	claimed := make(map[string]int) // table -> config index that claimed it

	for i, tc := range c.opts.Tables {
		names, err := expandConfig(tc, catalog)
		if err != nil {
			return nil, err
		}

		for _, name := range names {
			if prev, dup := claimed[name]; dup {
				return nil, &common.ConfigurationError{
					Field:  "tables",
					Reason: fmt.Sprintf("table %q claimed by configs %d and %d", name, prev, i),
				}
			}
			claimed[name] = i

			artifact := name
			if tc.CaptureInstance != "" {
				artifact = tc.CaptureInstance
			}

			resolved = append(resolved, resolvedTable{
				table:    name,
				artifact: artifact,
				initial:  c.initialPosition(tc, head),
			})
		}
	}

	return resolved, nil
}

func expandConfig(tc cfg.TableConfiguration, catalog []string) ([]string, error) {
	if tc.Name != "" && tc.Pattern != "" {
		return nil, &common.ConfigurationError{
			Field:  "tables",
			Reason: fmt.Sprintf("table config %q: name and pattern are mutually exclusive", tc.Name),
		}
	}
	if tc.Name != "" {
		return []string{tc.Name}, nil
	}
	if tc.Pattern == "" {
		return nil, &common.ConfigurationError{
			Field:  "tables",
			Reason: "table config requires name or pattern",
		}
	}

	sel, err := source.NewSelector(tc.Pattern)
	if err != nil {
		return nil, err
	}
	return sel.Resolve(catalog)
}

// headPosition fetches the source head once, only when some table needs it
// to anchor a "now" start or an explicit token's position kind.
func (c *Coordinator) headPosition(ctx context.Context) (common.Position, error) {
	tokens := c.opts.Source.InitialChange == cfg.InitialExplicit
	for _, tc := range c.opts.Tables {
		if tc.InitialToken != 0 {
			tokens = true
		}
	}
	needed := tokens || c.opts.Source.InitialChange != cfg.InitialEarliest
	if !needed {
		return common.Position{}, nil
	}

	head, err := c.opts.Feed.CurrentPosition(ctx)
	if err != nil {
		return common.Position{}, fmt.Errorf("fetching source head position: %w", err)
	}
	if tokens && head.Kind == common.PositionNone {
		return common.Position{}, &common.ConfigurationError{
			Field:  "initial_token",
			Reason: "source reports no position kind; explicit start tokens cannot be anchored",
		}
	}
	return head, nil
}

// initialPosition picks where a table starts when no persisted offset
// exists. Per-table tokens beat the engine-wide mode.
func (c *Coordinator) initialPosition(tc cfg.TableConfiguration, head common.Position) common.Position {
	if tc.InitialToken != 0 {
		return common.Position{Kind: head.Kind, Token: tc.InitialToken}
	}

	switch c.opts.Source.InitialChange {
	case cfg.InitialNow:
		return head
	case cfg.InitialExplicit:
		return common.Position{Kind: head.Kind, Token: c.opts.Source.InitialToken}
	default: // earliest
		return common.Position{}
	}
}
