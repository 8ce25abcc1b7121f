// Package billing turns Stripe payments into wallet credits.
package billing

import "strings"

// Plans sold through Stripe Checkout and the permanent credits each one grants.
const (
	PlanStarter  = "starter"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

var planCredits = map[string]int64{
	PlanStarter:  1000,
	PlanPro:      5000,
	PlanBusiness: 20000,
}

// CreditsForPlan returns the credits granted by a plan name.
func CreditsForPlan(plan string) (int64, bool) {
	credits, ok := planCredits[strings.ToLower(strings.TrimSpace(plan))]
	return credits, ok
}

// refundCredits scales a plan's credits by the refunded share of the charge.
// A full refund takes back every credit; partial refunds round down.
func refundCredits(credits, amount, refunded int64) int64 {
	if amount <= 0 || refunded <= 0 {
		return 0
	}
	if refunded >= amount {
		return credits
	}
	return credits * refunded / amount
}
