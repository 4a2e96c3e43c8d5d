package payments

import (
	"testing"

	"github.com/snippetstream/snippetstream/app/models"
)

func TestNormalizeBillingCycle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Year", want: models.BillingCycleYearly},
		{in: "yearly", want: models.BillingCycleYearly},
		{in: "YEARLY", want: models.BillingCycleYearly},
		{in: "Month", want: models.BillingCycleMonthly},
		{in: "monthly", want: models.BillingCycleMonthly},
		{in: "", want: models.BillingCycleMonthly},
		{in: "weekly", want: models.BillingCycleMonthly},
	}

	for _, tt := range tests {
		if got := NormalizeBillingCycle(tt.in); got != tt.want {
			t.Fatalf("NormalizeBillingCycle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPeriodDays(t *testing.T) {
	if got := PeriodDays(models.BillingCycleYearly); got != 365 {
		t.Fatalf("yearly period = %d, want 365", got)
	}
	if got := PeriodDays(models.BillingCycleMonthly); got != 30 {
		t.Fatalf("monthly period = %d, want 30", got)
	}
}

func TestEventAmount(t *testing.T) {
	data := map[string]interface{}{"recurring_pre_tax_amount": float64(1500)}
	if got := eventAmount(data); got != 15.00 {
		t.Fatalf("eventAmount = %v, want 15.00", got)
	}

	data = map[string]interface{}{"total_amount": float64(14999)}
	if got := eventAmount(data); got != 149.99 {
		t.Fatalf("eventAmount = %v, want 149.99", got)
	}

	if got := eventAmount(map[string]interface{}{}); got != fallbackAmount {
		t.Fatalf("eventAmount on empty data = %v, want fallback %v", got, fallbackAmount)
	}

	// Amounts delivered as strings are not trusted.
	data = map[string]interface{}{"amount": "1500"}
	if got := eventAmount(data); got != fallbackAmount {
		t.Fatalf("eventAmount on string amount = %v, want fallback %v", got, fallbackAmount)
	}
}

func TestEventCurrency(t *testing.T) {
	if got := eventCurrency(map[string]interface{}{"currency": "eur"}); got != "EUR" {
		t.Fatalf("eventCurrency = %q, want EUR", got)
	}
	if got := eventCurrency(map[string]interface{}{}); got != "USD" {
		t.Fatalf("eventCurrency default = %q, want USD", got)
	}
}

func TestCustomerEmail(t *testing.T) {
	nested := map[string]interface{}{
		"customer": map[string]interface{}{"email": "nested@example.com"},
	}
	if got := customerEmail(nested); got != "nested@example.com" {
		t.Fatalf("customerEmail nested = %q", got)
	}

	flat := map[string]interface{}{"customer_email": "flat@example.com"}
	if got := customerEmail(flat); got != "flat@example.com" {
		t.Fatalf("customerEmail flat = %q", got)
	}

	if got := customerEmail(map[string]interface{}{}); got != "" {
		t.Fatalf("customerEmail empty = %q, want empty", got)
	}
}
