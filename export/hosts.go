package export

import "context"

// PullRequest describes a regression-test branch to open against a project
// repository.
type PullRequest struct {
	RepoURL  string
	Branch   string
	Title    string
	Body     string
	TestPath string
	TestBody string
}

// PullRequestResult is the host's record of an opened pull request.
type PullRequestResult struct {
	URL    string `json:"pr_url"`
	Number int    `json:"pr_number"`
	Branch string `json:"branch_name"`
}

// GitHost opens pull requests on an external code host. Creating a branch
// that already exists must not fail; opening the same pull request twice
// must return the existing one.
type GitHost interface {
	OpenPullRequest(ctx context.Context, pr PullRequest) (*PullRequestResult, error)
}

// SandboxResult is the address of a provisioned online sandbox.
type SandboxResult struct {
	URL      string `json:"sandbox_url"`
	ID       string `json:"sandbox_id"`
	Platform string `json:"platform"`
}

// SandboxCreator provisions an online sandbox from a file tree.
type SandboxCreator interface {
	Create(ctx context.Context, platform, title string, files map[string]string) (*SandboxResult, error)
}

// ReportDocument is the input to PDF rendering.
type ReportDocument struct {
	Title          string
	Description    string
	ReproID        string
	Status         string
	StabilityScore float64
	TestCode       string
}

// PDFRenderer renders a report document to PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, doc ReportDocument) ([]byte, error)
}
