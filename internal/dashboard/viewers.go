package dashboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/qualys/compliance-console/internal/models"
)

// openDetail fetches one entity and opens its modal. A result that arrives after
// the page changed is dropped.
func (a *App) openDetail(ctx context.Context, what, id string, fetch func(context.Context) (Modal, error)) ActionResult {
	a.mu.Lock()
	epoch := a.epoch
	a.mu.Unlock()

	m, err := fetch(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		msg := fmt.Sprintf("Error loading %s: %v", what, err)
		a.notifyLocked(LevelError, msg)
		a.logger.Warn("loading detail failed", "kind", what, "id", id, "error", err)
		return ActionResult{Target: id, Message: msg, Err: err}
	}
	if a.closed || a.epoch != epoch {
		return ActionResult{Target: id, Message: "page changed", Err: errPageChanged}
	}

	a.openModalLocked(m)
	return ActionResult{OK: true, Target: id, Message: m.Title}
}

func (a *App) ViewPolicy(ctx context.Context, id string) ActionResult {
	return a.openDetail(ctx, "policy", id, func(ctx context.Context) (Modal, error) {
		p, err := a.backend.GetPolicy(ctx, id)
		if err != nil {
			return Modal{}, err
		}
		return policyModal(*p), nil
	})
}

func (a *App) ViewViolation(ctx context.Context, id string) ActionResult {
	return a.openDetail(ctx, "violation", id, func(ctx context.Context) (Modal, error) {
		v, err := a.backend.GetViolation(ctx, id)
		if err != nil {
			return Modal{}, err
		}
		return violationModal(*v), nil
	})
}

func (a *App) ViewReport(ctx context.Context, id string) ActionResult {
	return a.openDetail(ctx, "report", id, func(ctx context.Context) (Modal, error) {
		r, err := a.backend.GetReport(ctx, id)
		if err != nil {
			return Modal{}, err
		}
		return reportModal(*r, id), nil
	})
}

func policyModal(p models.Policy) Modal {
	return Modal{
		ID:    ModalPolicyView,
		Title: p.Title,
		Fields: []Field{
			{Label: "Jurisdiction", Value: p.Jurisdiction},
			{Label: "Category", Value: p.Category},
			{Label: "Created", Value: p.CreatedDate()},
		},
		Sections: []ModalSection{
			{Heading: "Policy Content", Lines: strings.Split(p.Content, "\n")},
		},
	}
}

func violationModal(v models.Violation) Modal {
	return Modal{
		ID:    ModalViolationView,
		Title: "Violation Details",
		Fields: []Field{
			{Label: "Transaction ID", Value: v.TransactionID},
			{Label: "Policy", Value: v.PolicyID},
			{Label: "Risk Level", Value: v.RiskLevel.Label(), Class: riskClass(v.RiskLevel)},
			{Label: "Created", Value: models.DisplayTimestamp(v.CreatedAt)},
		},
		Sections: []ModalSection{
			{Heading: "Description", Lines: []string{v.Description}},
			{Heading: "Recommendation", Lines: []string{v.Recommendation}},
		},
	}
}

// reportModal titles the modal with the report's own id when it has one and
// the requested id otherwise.
func reportModal(r models.Report, requested string) Modal {
	generated := "N/A"
	if r.Generated != "" {
		generated = models.DisplayTimestamp(r.Generated)
	}
	return Modal{
		ID:    ModalReportView,
		Title: "Report " + orDefault(r.ID.String(), requested),
		Fields: []Field{
			{Label: "Generated", Value: generated},
			{Label: "Status", Value: orDefault(r.Status, "Completed")},
		},
		Sections: []ModalSection{
			{Heading: "Summary", Lines: []string{orDefault(r.Summary, "No summary available")}},
			{Heading: "Details", Lines: []string{orDefault(r.DetailsText(), "No details available")}},
		},
	}
}
