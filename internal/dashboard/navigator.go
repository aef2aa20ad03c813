package dashboard

import (
	"context"
	"fmt"
)

// Navigate switches the console to page: it shows that page's section only,
// marks its nav item active, cancels whatever the previous page was still
// loading and runs the page's loader. Unknown pages leave the state as it
// was and return ErrUnknownPage.
func (a *App) Navigate(ctx context.Context, page PageID) (LoadResult, error) {
	if !IsPage(page) {
		return LoadResult{}, fmt.Errorf("%w: %q", ErrUnknownPage, page)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return LoadResult{}, ErrClosed
	}
	a.cancel()
	a.epoch++
	a.pageCtx, a.cancel = context.WithCancel(a.rootCtx)
	a.showPageLocked(page)
	a.state.CurrentPage = page
	a.loaded = true
	session := a.state.SessionID
	a.mu.Unlock()

	a.logger.Debug("navigated", "session", session, "page", page)

	return a.loadPage(ctx, page), nil
}

// Refresh reloads the current page.
func (a *App) Refresh(ctx context.Context) (LoadResult, error) {
	return a.Navigate(ctx, a.CurrentPage())
}

// EnsureLoaded loads the current page if nothing has been navigated to
// since the app was created, as happens after a session is restored.
func (a *App) EnsureLoaded(ctx context.Context) (LoadResult, error) {
	a.mu.Lock()
	loaded, page := a.loaded, a.state.CurrentPage
	a.mu.Unlock()
	if loaded {
		return LoadResult{Page: page}, nil
	}
	return a.Navigate(ctx, page)
}

func (a *App) showPageLocked(page PageID) {
	for i := range a.view.Sections {
		a.view.Sections[i].Visible = a.view.Sections[i].Page == page
	}
	for i := range a.view.Nav {
		a.view.Nav[i].Active = a.view.Nav[i].Page == page
	}
	a.view.CurrentPage = page
}

// loadPage runs the single loader bound to page. The upload page has none.
func (a *App) loadPage(ctx context.Context, page PageID) LoadResult {
	switch page {
	case PageDashboard:
		return a.loadDashboard(ctx)
	case PagePolicies:
		return runTableLoader(ctx, a, policiesLoader)
	case PageScan:
		return runTableLoader(ctx, a, violationsLoader)
	case PageReports:
		return runTableLoader(ctx, a, reportsLoader)
	}
	return LoadResult{Page: page}
}

// reload refreshes page after a mutation, but only while it is still the
// page on screen.
func (a *App) reload(ctx context.Context, page PageID) {
	if a.CurrentPage() != page {
		return
	}
	a.loadPage(ctx, page)
}
