package scoring

import (
	"github.com/sells-group/visibility-grader/internal/gateway"
	"github.com/sells-group/visibility-grader/internal/model"
)

const topIssueCount = 3

// DeriveIssues inspects the place details for actionable profile gaps. Order
// is fixed by impact so truncating to the top issues never reorders.
func DeriveIssues(details *gateway.PlaceDetails) []model.Issue {
	issues := []model.Issue{}
	if !details.HasOpeningHours() {
		issues = append(issues, model.Issue{
			Key:      model.IssueHoursMissing,
			Label:    "Add operating hours to your Google Business Profile.",
			Severity: model.SeverityMedium,
			Weight:   8,
		})
	}
	if details.WebsiteURL() == "" {
		issues = append(issues, model.Issue{
			Key:      model.IssueWebsiteMissing,
			Label:    "Add your website to your Google Business Profile.",
			Severity: model.SeverityHigh,
			Weight:   10,
		})
	}
	return issues
}

// TopIssues truncates the ordered issue list to the few shown to the user.
func TopIssues(issues []model.Issue) []model.Issue {
	if len(issues) <= topIssueCount {
		return issues
	}
	return issues[:topIssueCount]
}
