package verification

import "fmt"

// check is one scored signal with the remediation shown when it is missing
type check struct {
	name           string
	weight         int
	passed         func(Details) bool
	recommendation string
}

// Score is the scorer's verdict for a set of details
type Score struct {
	Confidence      int
	Status          Status
	Recommendations []string
}

// Scorer turns payment evidence into a confidence and verdict.
// It knows nothing about duplicates; those are rejected before scoring.
type Scorer struct {
	checks []check
}

// NewScorer creates a Scorer whose amount remediation names the given fee
func NewScorer(fee int) *Scorer {
	if fee <= 0 {
		fee = DefaultFee
	}
	// Order matters: recommendations are emitted in this order.
	// Dates are detected but never scored.
	return &Scorer{
		checks: []check{
			{
				name:           "amount",
				weight:         35,
				passed:         func(d Details) bool { return d.AmountFound },
				recommendation: fmt.Sprintf("Amount (₹%d) not detected.", fee),
			},
			{
				name:           "transaction_id",
				weight:         30,
				passed:         func(d Details) bool { return len(d.TransactionIDs) > 0 },
				recommendation: "UTR/Transaction ID not found.",
			},
			{
				name:           "success_status",
				weight:         20,
				passed:         func(d Details) bool { return d.SuccessStatus },
				recommendation: "Payment success status not visible.",
			},
			{
				name:           "upi_app",
				weight:         15,
				passed:         func(d Details) bool { return d.UPIAppDetected },
				recommendation: "UPI app name not visible in the screenshot.",
			},
		},
	}
}

// Score computes confidence, status and recommendations for details
func (s *Scorer) Score(details Details) Score {
	confidence := 0
	recommendations := make([]string, 0, len(s.checks))
	for _, c := range s.checks {
		if c.passed(details) {
			confidence += c.weight
		} else {
			recommendations = append(recommendations, c.recommendation)
		}
	}

	return Score{
		Confidence:      confidence,
		Status:          StatusFor(confidence),
		Recommendations: recommendations,
	}
}

// StatusFor maps a confidence onto a verdict
func StatusFor(confidence int) Status {
	switch {
	case confidence >= VerifiedThreshold:
		return StatusVerified
	case confidence >= ReviewThreshold:
		return StatusReview
	default:
		return StatusRejected
	}
}
