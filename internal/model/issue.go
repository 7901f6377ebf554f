package model

// Issue is one actionable finding surfaced to the business owner. Issues keep
// their derivation order; top_issues is a truncation of the full list, not a
// re-sort by weight.
type Issue struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Severity string `json:"severity,omitempty"`
	Weight   int    `json:"weight,omitempty"`
}

// Fixed issue keys written by the pipeline.
const (
	IssuePlaceNotFound   = "place_not_found"
	IssueAlreadyGraded   = "already_graded"
	IssueHoursMissing    = "hours_missing"
	IssueWebsiteMissing  = "website_missing"
	IssueUnexpectedError = "unexpected_error"
)

// Issue severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// PlaceNotFoundIssue is written when place resolution returns no results.
func PlaceNotFoundIssue() Issue {
	return Issue{
		Key:      IssuePlaceNotFound,
		Severity: SeverityHigh,
		Label:    "Google Business Profile not found.",
	}
}

// AlreadyGradedIssue is written when a scan for the same place was already
// completed on the same calendar day.
func AlreadyGradedIssue() Issue {
	return Issue{
		Key:      IssueAlreadyGraded,
		Severity: SeverityLow,
		Label:    "This business was already graded today. Check back tomorrow for a fresh scan.",
	}
}

// UnexpectedErrorIssue is written when processing aborts outside the
// per-stage degradation paths.
func UnexpectedErrorIssue() Issue {
	return Issue{
		Key:   IssueUnexpectedError,
		Label: "We hit a snag while grading. Our team has been notified.",
	}
}
