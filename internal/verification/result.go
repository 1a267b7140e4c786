package verification

import "strings"

// Status is the verdict of a verification attempt
type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusReview   Status = "REVIEW"
	StatusRejected Status = "REJECTED"
)

const (
	// VerifiedThreshold is the minimum confidence for a VERIFIED verdict
	VerifiedThreshold = 70
	// ReviewThreshold is the minimum confidence for a REVIEW verdict
	ReviewThreshold = 40
)

const (
	recommendationDuplicate = "This screenshot has already been used by another team."
	recommendationError     = "Error processing image. Please try again."
)

// Details holds the payment evidence found in the extracted text
type Details struct {
	AmountFound    bool     `json:"amountFound"`
	TransactionIDs []string `json:"transactionIds"`
	SuccessStatus  bool     `json:"successStatus"`
	UPIAppDetected bool     `json:"upiAppDetected"`
	DateFound      bool     `json:"dateFound"`
}

// Result is the outcome of one verification attempt
type Result struct {
	Status          Status   `json:"status"`
	Confidence      int      `json:"confidence"`
	Details         Details  `json:"details"`
	Recommendations []string `json:"recommendations"`
	ImageHash       string   `json:"imageHash"`
}

// Accepted reports whether the caller may proceed to submit a registration
func (r Result) Accepted() bool {
	return r.Status == StatusVerified || r.Status == StatusReview
}

// TransactionID returns the id used as the payment's registry key: the first
// extracted id that contains a digit. Upper-case words such as a "SUCCESSFUL"
// banner match the alphanumeric pattern but never identify a payment.
func (r Result) TransactionID() string {
	for _, id := range r.Details.TransactionIDs {
		if strings.ContainsAny(id, "0123456789") {
			return id
		}
	}
	return ""
}

// newResult copies the slices so the returned value shares nothing with its inputs
func newResult(status Status, confidence int, details Details, recommendations []string, imageHash string) Result {
	ids := make([]string, len(details.TransactionIDs))
	copy(ids, details.TransactionIDs)
	details.TransactionIDs = ids

	recs := make([]string, len(recommendations))
	copy(recs, recommendations)

	return Result{
		Status:          status,
		Confidence:      confidence,
		Details:         details,
		Recommendations: recs,
		ImageHash:       imageHash,
	}
}

func rejected(recommendation, imageHash string) Result {
	return newResult(StatusRejected, 0, Details{}, []string{recommendation}, imageHash)
}
