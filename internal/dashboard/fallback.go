package dashboard

import (
	"github.com/qualys/compliance-console/internal/models"
)

// Sample data shown when a collection cannot be loaded and the fallback
// policy is "sample". Each call returns a fresh copy.

func fallbackPolicies() []models.Policy {
	return []models.Policy{
		{ID: "1", Title: "AML Policy", Jurisdiction: "US", Category: "Anti-Money Laundering", CreatedAt: "2023-01-15"},
		{ID: "2", Title: "KYC Guidelines", Jurisdiction: "EU", Category: "Know Your Customer", CreatedAt: "2023-02-20"},
		{ID: "3", Title: "Data Protection", Jurisdiction: "Global", Category: "Privacy", CreatedAt: "2023-03-10"},
	}
}

func fallbackViolations() []models.Violation {
	return []models.Violation{
		{ID: "1", TransactionID: "TXN-001", PolicyID: "AML Policy", RiskLevel: models.RiskHigh, Description: "Large cash transaction over $10,000"},
		{ID: "2", TransactionID: "TXN-002", PolicyID: "KYC Guidelines", RiskLevel: models.RiskMedium, Description: "Incomplete customer information"},
		{ID: "3", TransactionID: "TXN-003", PolicyID: "Data Protection", RiskLevel: models.RiskLow, Description: "Missing encryption for data transfer"},
	}
}

func fallbackReports() []models.Report {
	return []models.Report{
		{ID: "1", Generated: "2023-06-15 14:30:00"},
		{ID: "2", Generated: "2023-06-10 09:15:00"},
		{ID: "3", Generated: "2023-06-05 16:45:00"},
	}
}

func fallbackStats() []StatCard {
	return makeStats(5000, 12, 40, 15)
}

func fallbackCharts() []Chart {
	trend := Chart{ID: "trend-chart", Title: "Transaction Types Distribution", Kind: "pie"}
	for i, p := range []struct {
		label string
		value int
	}{
		{"CASH_IN", 1082},
		{"PAYMENT", 2587},
		{"TRANSFER", 437},
		{"CASH_OUT", 631},
		{"DEBIT", 263},
	} {
		trend.Points = append(trend.Points, ChartPoint{Label: p.label, Value: p.value, Color: typeColors[i]})
	}
	return []Chart{newRiskChart(15, 20, 5), trend}
}
