// Package worker keeps the spreadsheet copy of every owner's data up to date.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/analytics"
	"tally/internal/core"
	"tally/internal/sheets"
)

// Source reads an owner's collections.
type Source interface {
	ListExpenses(ctx context.Context, owner string) ([]core.Expense, error)
	ListCategories(ctx context.Context, owner string) ([]core.Category, error)
}

// OwnerLister enumerates every known owner.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

// ExportWorker re-exports an owner's expenses and analytics whenever either
// collection changes.
type ExportWorker struct {
	source   Source
	exporter sheets.Exporter
}

func NewExportWorker(source Source, exporter sheets.Exporter) *ExportWorker {
	return &ExportWorker{source: source, exporter: exporter}
}

// HandleChange processes a single change message from AMQP.
func (w *ExportWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	slog.InfoContext(ctx, "Processing change message",
		"owner", msg.Owner,
		"collection", msg.Collection,
		"timestamp", msg.Timestamp)
	return w.ExportOwner(ctx, msg.Owner)
}

// ExportOwner loads both collections concurrently, aggregates them and writes
// the result to the exporter.
func (w *ExportWorker) ExportOwner(ctx context.Context, owner string) error {
	var (
		expenses   []core.Expense
		categories []core.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = w.source.ListExpenses(gctx, owner)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		categories, err = w.source.ListCategories(gctx, owner)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load owner %s: %w", owner, err)
	}

	summary := analytics.Aggregate(expenses, categories)
	if err := w.exporter.Export(ctx, owner, expenses, summary); err != nil {
		return fmt.Errorf("export owner %s: %w", owner, err)
	}

	slog.InfoContext(ctx, "Successfully exported owner",
		"owner", owner,
		"expenses", len(expenses),
		"categories", len(categories),
		"total", core.FormatAmount(summary.Total))
	return nil
}

// StartupExport re-exports every owner, recovering from messages missed while
// the worker was down. Failures are logged and counted, not returned.
func (w *ExportWorker) StartupExport(ctx context.Context, owners OwnerLister) error {
	list, err := owners.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners for startup export: %w", err)
	}
	if len(list) == 0 {
		slog.InfoContext(ctx, "No owners found on startup")
		return nil
	}

	successCount, errorCount := 0, 0
	for _, owner := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.ExportOwner(ctx, owner); err != nil {
			slog.ErrorContext(ctx, "Failed to export owner during startup", "owner", owner, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(list),
		"exported", successCount,
		"errors", errorCount)
	return nil
}
