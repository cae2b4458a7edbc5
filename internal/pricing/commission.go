package pricing

import (
	"fmt"
	"strings"
)

// CommissionResult reports the commission owed to a referral source.
type CommissionResult struct {
	Commission   float64 `json:"commission"`
	Percentage   float64 `json:"percentage"`
	Eligible     bool    `json:"eligible"`
	Reason       string  `json:"reason"`
	PaymentCycle string  `json:"paymentCycle,omitempty"`
}

// CalculateCommission applies the referral source's commission rule to amount.
// No commission is paid below the rule's minimum amount.
func (e *Engine) CalculateCommission(referralSourceID string, amount float64) CommissionResult {
	if e == nil || e.store == nil {
		return CommissionResult{Reason: ErrConfigNotLoaded.Error()}
	}
	referralSourceID = strings.TrimSpace(referralSourceID)
	master := e.store.master
	if _, ok := master.ReferralMaster[referralSourceID]; !ok {
		return CommissionResult{Reason: fmt.Sprintf("referral source %s is not configured", referralSourceID)}
	}
	rule, ok := master.CommissionRules[referralSourceID]
	if !ok {
		return CommissionResult{Reason: fmt.Sprintf("no commission rule for referral source %s", referralSourceID)}
	}
	if amount < rule.MinimumAmount {
		return CommissionResult{
			Percentage:   rule.Percentage,
			PaymentCycle: rule.PaymentCycle,
			Reason:       fmt.Sprintf("amount %.2f is below minimum %.2f", amount, rule.MinimumAmount),
		}
	}
	return CommissionResult{
		Commission:   Round2(amount * rule.Percentage / 100),
		Percentage:   rule.Percentage,
		Eligible:     true,
		PaymentCycle: rule.PaymentCycle,
		Reason:       fmt.Sprintf("%.2f%% commission, paid %s", rule.Percentage, paymentCycleLabel(rule.PaymentCycle)),
	}
}

func paymentCycleLabel(cycle string) string {
	if strings.TrimSpace(cycle) == "" {
		return "per agreement"
	}
	return cycle
}
