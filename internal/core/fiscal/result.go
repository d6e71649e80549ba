package fiscal

import (
	"fmt"
	"time"
)

// Message is an authority observation, error or event.
type Message struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (m Message) String() string {
	return fmt.Sprintf("[%d] %s", m.Code, m.Msg)
}

// AuthorizationResult is the decoded outcome of one authorization request. A rejection
// is a result, not an error. A request is never resubmitted with the same number.
type AuthorizationResult struct {
	Approved       bool         `json:"approved"`
	Kind           DocumentKind `json:"kind"`
	SalesPoint     int          `json:"salesPoint"`
	AssignedNumber int64        `json:"assignedNumber"`
	CAE            string       `json:"cae,omitempty"`
	CAEExpiry      time.Time    `json:"caeExpiry,omitempty"`
	Observations   []Message    `json:"observations,omitempty"`
	Errors         []Message    `json:"errors,omitempty"`
	Events         []Message    `json:"events,omitempty"`
	ProcessedAt    time.Time    `json:"processedAt"`
}

// Reasons renders errors and observations as "[code] message" lines.
func (r *AuthorizationResult) Reasons() []string {
	out := make([]string, 0, len(r.Errors)+len(r.Observations))
	for _, m := range r.Errors {
		out = append(out, m.String())
	}
	for _, m := range r.Observations {
		out = append(out, m.String())
	}
	return out
}

// OfficialNumber formats the assigned number as PPPPP-NNNNNNNN.
func (r *AuthorizationResult) OfficialNumber() string {
	return FormatNumber(r.SalesPoint, r.AssignedNumber)
}

// FormatNumber renders a sales point and document number the way they are printed.
func FormatNumber(salesPoint int, number int64) string {
	return fmt.Sprintf("%05d-%08d", salesPoint, number)
}
