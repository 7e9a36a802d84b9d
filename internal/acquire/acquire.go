// Package acquire fetches raw records from the gateway across all categories
// and assembles them into a bounded, recency-ordered snapshot.
package acquire

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/sahanasridhar/medtimeline/internal/source"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// Default bounding policy. The truncation threshold keeps typical small
// datasets off the truncation path entirely; the budget keeps the worst case
// inside the downstream model's context window with a safety margin.
const (
	DefaultTruncationThreshold = 1_000
	DefaultTokenBudget         = 900_000
)

// Options tunes the bounding policy of an Acquirer.
type Options struct {
	// Categories to fetch. Empty means models.DefaultCategories().
	Categories []string
	// TruncationThreshold is the candidate count above which the token
	// budget is applied. Zero means DefaultTruncationThreshold.
	TruncationThreshold int
	// TokenBudget caps the estimated token cost of the final snapshot.
	// Zero means DefaultTokenBudget.
	TokenBudget int
}

// Acquirer fetches and assembles record snapshots.
type Acquirer struct {
	client     source.Client
	categories []string
	threshold  int
	budget     int
}

// New creates an Acquirer over the given gateway client.
func New(client source.Client, opts Options) *Acquirer {
	if len(opts.Categories) == 0 {
		opts.Categories = models.DefaultCategories()
	}
	if opts.TruncationThreshold == 0 {
		opts.TruncationThreshold = DefaultTruncationThreshold
	}
	if opts.TokenBudget == 0 {
		opts.TokenBudget = DefaultTokenBudget
	}
	return &Acquirer{
		client:     client,
		categories: opts.Categories,
		threshold:  opts.TruncationThreshold,
		budget:     opts.TokenBudget,
	}
}

// FetchAll fetches every category concurrently and returns the merged,
// filtered, budget-bounded snapshot keyed by record ID. Acquisition is
// all-or-nothing: a single category failure fails the whole call, because
// downstream clustering assumes a consistent snapshot.
func (a *Acquirer) FetchAll(ctx context.Context) (map[string]models.SourceRecord, error) {
	g, gctx := errgroup.WithContext(ctx)
	perCategory := make([][]models.SourceRecord, len(a.categories))

	for i, category := range a.categories {
		g.Go(func() error {
			raw, err := a.client.FetchCategory(gctx, category)
			if err != nil {
				return fmt.Errorf("fetch category %s: %w", category, err)
			}
			perCategory[i] = normalize(category, raw)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge, excluding vitals: high-volume and low-signal for summarization.
	var merged []models.SourceRecord
	for _, records := range perCategory {
		for _, r := range records {
			if r.Category == models.CategoryVitals {
				continue
			}
			merged = append(merged, r)
		}
	}

	// Newest first. Tie-break by ID so the merge result is deterministic
	// regardless of fetch completion order.
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Recency.Equal(merged[j].Recency) {
			return merged[i].Recency.After(merged[j].Recency)
		}
		return merged[i].ID < merged[j].ID
	})

	if len(merged) > a.threshold {
		merged = truncateToBudget(merged, a.budget)
	}

	// Duplicate IDs across categories resolve last-write-wins; identifiers
	// are expected to be globally unique per source.
	out := make(map[string]models.SourceRecord, len(merged))
	for _, r := range merged {
		out[r.ID] = r
	}
	return out, nil
}

// normalize converts raw gateway records into SourceRecords, synthesizing an
// identifier when the gateway record has none.
func normalize(category string, raw []models.RawRecord) []models.SourceRecord {
	out := make([]models.SourceRecord, 0, len(raw))
	for i, r := range raw {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s:%d", category, i)
		}
		out = append(out, models.SourceRecord{
			ID:       id,
			Category: category,
			Recency:  r.UpdatedAt,
			Payload:  r.Payload,
		})
	}
	return out
}

// truncateToBudget accumulates records in sorted order while the running
// token estimate stays within budget, then stops accepting more.
func truncateToBudget(records []models.SourceRecord, budget int) []models.SourceRecord {
	var out []models.SourceRecord
	total := 0
	for _, r := range records {
		cost := EstimateTokens(r)
		if total+cost > budget {
			break
		}
		total += cost
		out = append(out, r)
	}
	return out
}
