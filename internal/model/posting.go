package model

import "time"

// JobPosting is one raw scraped job posting, the input of a batch run.
type JobPosting struct {
	Title             string    `json:"title" csv:"title"`
	Company           string    `json:"company" csv:"company"`
	URL               string    `json:"url" csv:"url"`
	Location          string    `json:"location,omitempty" csv:"location"`
	PostedAt          time.Time `json:"posted_at" csv:"posted_at"`
	Applicants        int       `json:"applicants,omitempty" csv:"applicants"`
	CompanyDomain     string    `json:"company_domain,omitempty" csv:"company_domain"`
	CompanyProfileURL string    `json:"company_profile_url,omitempty" csv:"company_profile_url"`
	Source            string    `json:"source,omitempty" csv:"source"`
}

// AsRelatedJob converts the posting to its denormalized lead form.
func (p JobPosting) AsRelatedJob() RelatedJob {
	return RelatedJob{Title: p.Title, URL: p.URL, PostedAt: p.PostedAt}
}
