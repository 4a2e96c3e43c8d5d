package payments

import (
	"strings"

	"github.com/snippetstream/snippetstream/app/models"
)

// fallbackAmount is used when the provider omits the charge amount.
// Downstream reporting assumes a numeric value on every row.
const fallbackAmount = 15.00

// NormalizeBillingCycle maps free-text provider interval values
// ("Month", "Year", "payment_frequency_interval": "Yearly", ...) onto
// the two cycles the product sells. Anything mentioning a year is
// yearly, everything else bills monthly.
func NormalizeBillingCycle(raw string) string {
	if strings.Contains(strings.ToLower(strings.TrimSpace(raw)), "year") {
		return models.BillingCycleYearly
	}
	return models.BillingCycleMonthly
}

// PeriodDays returns the paid period length for a normalized cycle.
func PeriodDays(cycle string) int {
	if cycle == models.BillingCycleYearly {
		return 365
	}
	return 30
}

// eventAmount extracts the charge amount from an event, converted from
// minor currency units (cents) to major units. The provider sends it
// under different keys depending on event type.
func eventAmount(data map[string]interface{}) float64 {
	if cents, ok := numberField(data, "recurring_pre_tax_amount", "amount", "total_amount"); ok {
		return cents / 100.0
	}
	return fallbackAmount
}

// eventCurrency returns the event currency, defaulting to USD.
func eventCurrency(data map[string]interface{}) string {
	if c := stringField(data, "currency"); c != "" {
		return strings.ToUpper(c)
	}
	return "USD"
}
