// Package rate implements the fixed-window counters behind the engine's
// layered request budgets.
package rate
