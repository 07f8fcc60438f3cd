package response

import "triage_server/core/domain"

const greeting = `Hello{{if .CustomerName}} {{.CustomerName}}{{end}},

`

var categoryTemplates = map[domain.Category]string{
	domain.CategoryTechnical: greeting + `Thank you for reporting this technical issue. Our engineering support team has been notified and is investigating it now.

We will get back to you with an update within {{.SLA}}. If you have error messages, screenshots or steps to reproduce the problem, reply to this email and we will add them to the case.`,

	domain.CategoryBilling: greeting + `Thank you for contacting us about your billing question. Our billing team is reviewing your account and will respond within {{.SLA}}.

Please do not share full card numbers by email. If we need payment details we will ask through a secure channel.`,

	domain.CategoryAccount: greeting + `Thank you for reaching out about your account. For your security, an account specialist will verify the request and get back to you within {{.SLA}}.

In the meantime you can try the "Forgot password" link on the sign-in page if you are locked out.`,

	domain.CategoryComplaint: greeting + `We are sorry to hear about your experience, and we appreciate you taking the time to tell us about it. A senior member of our support team will personally review your message and contact you within {{.SLA}}.`,

	domain.CategoryFeatureRequest: greeting + `Thank you for your suggestion! We have shared it with our product team, who review every request when planning the roadmap.

We will follow up within {{.SLA}} if we need more details.`,

	domain.CategoryGeneral: greeting + `Thank you for contacting us. We have received your message and a member of our support team will respond within {{.SLA}}.`,
}

const solutionTemplate = greeting + `Thank you for contacting us about "{{.Subject}}". Based on your message, this article from our knowledge base should help:

{{.Title}}

{{.Content}}
{{- if .Steps}}

Steps to resolve:
{{- range $i, $s := .Steps}}
{{inc $i}}. {{$s}}
{{- end}}
{{- end}}

If this does not resolve your issue, just reply to this email and our team will follow up.`

const fallbackReply = `Hello,

Thank you for your message. It has reached our support team and we will get back to you within 24 hours.`

// slaTable holds the promised turnaround per category, indexed by priority.
var slaTable = map[domain.Category]map[domain.Priority]string{
	domain.CategoryTechnical:      {domain.PriorityHigh: "2 hours", domain.PriorityMedium: "24 hours", domain.PriorityLow: "48 hours"},
	domain.CategoryBilling:        {domain.PriorityHigh: "4 hours", domain.PriorityMedium: "24 hours", domain.PriorityLow: "48 hours"},
	domain.CategoryAccount:        {domain.PriorityHigh: "4 hours", domain.PriorityMedium: "12 hours", domain.PriorityLow: "24 hours"},
	domain.CategoryComplaint:      {domain.PriorityHigh: "2 hours", domain.PriorityMedium: "4 hours", domain.PriorityLow: "8 hours"},
	domain.CategoryFeatureRequest: {domain.PriorityHigh: "2 business days", domain.PriorityMedium: "5 business days", domain.PriorityLow: "10 business days"},
	domain.CategoryGeneral:        {domain.PriorityHigh: "4 hours", domain.PriorityMedium: "24 hours", domain.PriorityLow: "48 hours"},
}

// SLAFor returns the promised turnaround. Unknown values get the general medium promise.
func SLAFor(category domain.Category, priority domain.Priority) string {
	if row, ok := slaTable[category]; ok {
		if sla, ok := row[priority]; ok {
			return sla
		}
	}
	return slaTable[domain.CategoryGeneral][domain.PriorityMedium]
}
