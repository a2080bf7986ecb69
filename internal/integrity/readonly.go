package integrity

import (
	"time"

	"balancechain/internal/chain"
)

// EnforceReadOnly runs scan and, when its severity is critical or major,
// latches c read-only via SetReadOnly; any other severity leaves the
// latch untouched. It returns the scan report so callers can log or
// surface warnings regardless of outcome.
func EnforceReadOnly(c *chain.Chain, scan func() (Report, error)) (Report, error) {
	report, err := scan()
	if err != nil {
		return Report{}, err
	}

	switch report.Classify() {
	case SeverityCritical, SeverityMajor:
		reason := string(report.Classify())
		if len(report.Errors) > 0 {
			reason = report.Errors[0].Code
		}
		if err := c.SetReadOnly(chain.ReadOnlyLatch{
			Enabled: true, Reason: reason, TimestampMs: time.Now().UnixMilli(),
		}); err != nil {
			return report, err
		}
	}
	return report, nil
}
