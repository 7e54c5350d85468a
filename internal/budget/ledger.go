// Package budget tracks cumulative spend and gates billable operations.
package budget

import (
	"errors"
	"sync"
)

// ErrBudgetExceeded is returned by components that refuse to start a
// billable operation once the ledger reports the budget as spent. It is a
// policy outcome, not a failure: callers translate it into give_up.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Ledger tracks cumulative cost and token usage for one run. Charges are
// never refunded, matching the billing model of the upstream services.
// All methods are safe for concurrent use; render workers report costs from
// their own goroutines.
type Ledger struct {
	mu        sync.Mutex
	budgetUSD float64
	totalUSD  float64
	tokens    int
}

// NewLedger creates a ledger with the given budget in USD.
func NewLedger(budgetUSD float64) *Ledger {
	return &Ledger{budgetUSD: budgetUSD}
}

// Charge records a cost. Negative amounts are ignored; there is no
// rollback.
func (l *Ledger) Charge(usd float64, tokens int) {
	if usd < 0 {
		usd = 0
	}
	if tokens < 0 {
		tokens = 0
	}
	l.mu.Lock()
	l.totalUSD += usd
	l.tokens += tokens
	l.mu.Unlock()
}

// WithinBudget reports whether another billable call may start. Every gated
// component consults this single predicate.
func (l *Ledger) WithinBudget() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUSD < l.budgetUSD
}

// CanAfford reports whether a call with the given estimated cost still fits
// the budget. Used to gate renders, whose flat price is known up front.
func (l *Ledger) CanAfford(usd float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUSD+usd <= l.budgetUSD
}

// TotalUSD returns the cumulative spend.
func (l *Ledger) TotalUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUSD
}

// TotalTokens returns the cumulative token count.
func (l *Ledger) TotalTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

// BudgetUSD returns the configured budget.
func (l *Ledger) BudgetUSD() float64 {
	return l.budgetUSD
}
