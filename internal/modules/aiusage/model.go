// README: Monthly allowance of AI run summaries per operator.
package aiusage

import "errors"

// ErrQuotaExhausted is returned when an operator has no summaries left for the current month.
var ErrQuotaExhausted = errors.New("summary quota exhausted")

// DefaultMonthlySummaries is the allowance granted at the start of each month.
const DefaultMonthlySummaries = 100
