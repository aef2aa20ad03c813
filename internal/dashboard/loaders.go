package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qualys/compliance-console/internal/models"
)

var errPageChanged = errors.New("page changed before load started")

// resource keys the dispatch and commit sequence numbers.
type resource string

const (
	resDashboard  resource = "dashboard"
	resPolicies   resource = "policies"
	resViolations resource = "violations"
	resReports    resource = "reports"
)

// LoadResult describes one loader run. Stale results were discarded because
// the page changed or a later load of the same resource already committed.
type LoadResult struct {
	Page   PageID
	Rows   []Row
	Source Source
	Err    error
	Stale  bool
}

type ticket struct {
	res   resource
	page  PageID
	epoch uint64
	seq   uint64
}

// dispatch starts a load of res for page. The returned context ends when
// ctx does, when the page is left or when the app is closed.
func (a *App) dispatch(ctx context.Context, res resource, page PageID) (context.Context, func(), ticket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, nil, ticket{}, ErrClosed
	}
	if a.state.CurrentPage != page {
		return nil, nil, ticket{}, errPageChanged
	}

	a.seq[res]++
	t := ticket{res: res, page: page, epoch: a.epoch, seq: a.seq[res]}

	lctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.pageCtx, cancel)
	return lctx, func() {
		stop()
		cancel()
	}, t, nil
}

// commitLocked reports whether t may write to the view, and records it as the
// latest commit for its resource if so.
func (a *App) commitLocked(t ticket) bool {
	if a.closed || a.epoch != t.epoch || a.committed[t.res] > t.seq {
		return false
	}
	a.committed[t.res] = t.seq
	return true
}

// tableLoader binds a collection endpoint to a table: how to fetch it, how
// each item becomes a row and what to show when the fetch fails.
type tableLoader[T any] struct {
	res      resource
	page     PageID
	table    TableID
	name     string
	fetch    func(ctx context.Context, be Backend) ([]T, error)
	project  func(item T, now time.Time) Row
	fallback func() []T
}

func runTableLoader[T any](ctx context.Context, a *App, l tableLoader[T]) LoadResult {
	lctx, done, t, err := a.dispatch(ctx, l.res, l.page)
	if err != nil {
		return LoadResult{Page: l.page, Err: err, Stale: true}
	}
	defer done()

	items, fetchErr := l.fetch(lctx, a.backend)
	if fetchErr != nil && lctx.Err() != nil {
		return LoadResult{Page: l.page, Err: fetchErr, Stale: true}
	}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.commitLocked(t) {
		return LoadResult{Page: l.page, Err: fetchErr, Stale: true}
	}

	tbl := a.view.Tables[l.table]
	if fetchErr == nil {
		tbl.Rows = projectRows(items, now, l.project)
		tbl.Source = SourceLive
		return LoadResult{Page: l.page, Rows: tbl.clone().Rows, Source: SourceLive}
	}

	a.logger.Warn("loading collection failed",
		"collection", l.name,
		"fallback", a.fallback,
		"error", fetchErr)

	switch a.fallback {
	case FallbackEmpty:
		tbl.Rows = nil
		tbl.Source = SourceEmpty
		a.notifyLocked(LevelWarning, fmt.Sprintf("Could not load %s: %v", l.name, fetchErr))
	case FallbackError:
		a.notifyLocked(LevelError, fmt.Sprintf("Error loading %s: %v", l.name, fetchErr))
	default:
		tbl.Rows = projectRows(l.fallback(), now, l.project)
		tbl.Source = SourceFallback
		a.notifyLocked(LevelWarning, fmt.Sprintf("Could not load %s (%v); showing sample data", l.name, fetchErr))
	}

	return LoadResult{Page: l.page, Rows: tbl.clone().Rows, Source: tbl.Source, Err: fetchErr}
}

func projectRows[T any](items []T, now time.Time, project func(T, time.Time) Row) []Row {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, project(item, now))
	}
	return rows
}

var policiesLoader = tableLoader[models.Policy]{
	res:   resPolicies,
	page:  PagePolicies,
	table: TablePolicies,
	name:  "policies",
	fetch: func(ctx context.Context, be Backend) ([]models.Policy, error) {
		return be.ListPolicies(ctx)
	},
	project:  policyRow,
	fallback: fallbackPolicies,
}

var violationsLoader = tableLoader[models.Violation]{
	res:   resViolations,
	page:  PageScan,
	table: TableViolations,
	name:  "violations",
	fetch: func(ctx context.Context, be Backend) ([]models.Violation, error) {
		return be.ListViolations(ctx)
	},
	project:  violationRow,
	fallback: fallbackViolations,
}

var reportsLoader = tableLoader[models.Report]{
	res:   resReports,
	page:  PageReports,
	table: TableReports,
	name:  "reports",
	fetch: func(ctx context.Context, be Backend) ([]models.Report, error) {
		return be.ListReports(ctx)
	},
	project:  reportRow,
	fallback: fallbackReports,
}

func policyRow(p models.Policy, _ time.Time) Row {
	id := p.ID.String()
	return Row{
		ID: id,
		Cells: []Cell{
			{Text: p.Title},
			{Text: p.Jurisdiction},
			{Text: p.Category},
			{Text: p.CreatedDate()},
		},
		Actions: []RowAction{
			{Label: "View", Kind: "view-policy", Target: id},
			{Label: "Delete", Kind: "delete-policy", Target: id},
		},
	}
}

func violationRow(v models.Violation, _ time.Time) Row {
	id := v.ID.String()
	return Row{
		ID: id,
		Cells: []Cell{
			{Text: orDefault(v.TransactionID, "N/A")},
			{Text: orDefault(v.PolicyID, "N/A")},
			{Text: v.RiskLevel.Label(), Class: riskClass(v.RiskLevel)},
			{Text: orDefault(v.Description, "No description")},
		},
		Actions: []RowAction{
			{Label: "Details", Kind: "view-violation", Target: id},
		},
	}
}

func reportRow(r models.Report, now time.Time) Row {
	id := r.ID.String()
	return Row{
		ID: id,
		Cells: []Cell{
			{Text: orDefault(id, "N/A")},
			{Text: orDefault(r.Generated, now.Format(timestampLayout))},
		},
		Actions: []RowAction{
			{Label: "View", Kind: "view-report", Target: id},
			{Label: "Download", Kind: "download-report", Target: id},
		},
	}
}

const timestampLayout = "2006-01-02 15:04:05"

func riskClass(r models.RiskLevel) string {
	return "risk-" + string(r.Normalize())
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// loadDashboard fetches transactions, policies and violations together and
// derives the stat cards and charts from them. Any failed fetch fails the
// whole dashboard.
func (a *App) loadDashboard(ctx context.Context) LoadResult {
	lctx, done, t, err := a.dispatch(ctx, resDashboard, PageDashboard)
	if err != nil {
		return LoadResult{Page: PageDashboard, Err: err, Stale: true}
	}
	defer done()

	var (
		transactions []models.Transaction
		policies     []models.Policy
		violations   []models.Violation
	)
	g, gctx := errgroup.WithContext(lctx)
	g.Go(func() error {
		var err error
		transactions, err = a.backend.ListTransactions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		policies, err = a.backend.ListPolicies(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		violations, err = a.backend.ListViolations(gctx)
		return err
	})
	fetchErr := g.Wait()
	if fetchErr != nil && lctx.Err() != nil {
		return LoadResult{Page: PageDashboard, Err: fetchErr, Stale: true}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.commitLocked(t) {
		return LoadResult{Page: PageDashboard, Err: fetchErr, Stale: true}
	}

	if fetchErr == nil {
		a.view.Stats, a.view.Charts = deriveDashboard(transactions, policies, violations)
		a.view.DashboardFrom = SourceLive
		return LoadResult{Page: PageDashboard, Source: SourceLive}
	}

	a.logger.Warn("loading dashboard failed", "fallback", a.fallback, "error", fetchErr)

	switch a.fallback {
	case FallbackEmpty:
		a.view.Stats = emptyStats()
		a.view.Charts = nil
		a.view.DashboardFrom = SourceEmpty
		a.notifyLocked(LevelWarning, fmt.Sprintf("Could not load dashboard data: %v", fetchErr))
	case FallbackError:
		a.notifyLocked(LevelError, fmt.Sprintf("Error loading dashboard data: %v", fetchErr))
	default:
		a.view.Stats = fallbackStats()
		a.view.Charts = fallbackCharts()
		a.view.DashboardFrom = SourceFallback
		a.notifyLocked(LevelWarning, fmt.Sprintf("Could not load dashboard data (%v); showing sample data", fetchErr))
	}

	return LoadResult{Page: PageDashboard, Source: a.view.DashboardFrom, Err: fetchErr}
}

var transactionTypeOrder = []string{"CASH_IN", "PAYMENT", "TRANSFER", "CASH_OUT", "DEBIT"}

func deriveDashboard(transactions []models.Transaction, policies []models.Policy, violations []models.Violation) ([]StatCard, []Chart) {
	risk := map[models.RiskLevel]int{}
	for _, v := range violations {
		switch level := v.RiskLevel.Normalize(); level {
		case models.RiskHigh, models.RiskMedium:
			risk[level]++
		default:
			risk[models.RiskLow]++
		}
	}

	types := map[string]int{}
	var extra []string
	for _, t := range transactions {
		if _, seen := types[t.Type]; !seen && !contains(transactionTypeOrder, t.Type) {
			extra = append(extra, t.Type)
		}
		types[t.Type]++
	}

	stats := makeStats(len(transactions), len(policies), len(violations), risk[models.RiskHigh])
	riskChart := newRiskChart(risk[models.RiskHigh], risk[models.RiskMedium], risk[models.RiskLow])

	trend := Chart{ID: "trend-chart", Title: "Transaction Types Distribution", Kind: "pie"}
	for i, name := range append(append([]string(nil), transactionTypeOrder...), extra...) {
		label := name
		if label == "" {
			label = "UNKNOWN"
		}
		trend.Points = append(trend.Points, ChartPoint{
			Label: label,
			Value: types[name],
			Color: typeColors[i%len(typeColors)],
		})
	}

	return stats, []Chart{riskChart, trend}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func makeStats(transactions, policies, violations, highRisk int) []StatCard {
	return []StatCard{
		{Key: "total-transactions", Label: "Total Transactions", Value: models.FormatCount(transactions)},
		{Key: "active-policies", Label: "Active Policies", Value: models.FormatCount(policies)},
		{Key: "violations-count", Label: "Violations", Value: models.FormatCount(violations)},
		{Key: "high-risk-alerts", Label: "High Risk Alerts", Value: models.FormatCount(highRisk)},
	}
}

func emptyStats() []StatCard {
	stats := makeStats(0, 0, 0, 0)
	for i := range stats {
		stats[i].Value = "N/A"
	}
	return stats
}

var (
	riskColors = map[string]string{
		"High":   "rgba(239, 71, 111, 0.8)",
		"Medium": "rgba(255, 209, 102, 0.8)",
		"Low":    "rgba(6, 214, 160, 0.8)",
	}
	typeColors = []string{
		"rgba(67, 97, 238, 0.8)",
		"rgba(114, 9, 183, 0.8)",
		"rgba(30, 60, 114, 0.8)",
		"rgba(41, 182, 246, 0.8)",
		"rgba(38, 198, 218, 0.8)",
	}
)

func newRiskChart(high, medium, low int) Chart {
	return Chart{
		ID:    "risk-chart",
		Title: "Violations by Risk Level",
		Kind:  "bar",
		Points: []ChartPoint{
			{Label: "High", Value: high, Color: riskColors["High"]},
			{Label: "Medium", Value: medium, Color: riskColors["Medium"]},
			{Label: "Low", Value: low, Color: riskColors["Low"]},
		},
	}
}
