package review

import (
	"github.com/go-git/go-git/v5"
)

// Provenance stamps the review report with the repository state the
// lenses analyzed.
type Provenance struct {
	CommitSHA string `json:"commit_sha,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Dirty     bool   `json:"dirty"`
}

// CollectProvenance reads HEAD and the worktree state from the
// repository at path. A non-repository path yields an empty record, not
// an error.
func CollectProvenance(path string) (*Provenance, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return &Provenance{}, nil
	}

	p := &Provenance{}
	head, err := repo.Head()
	if err != nil {
		return p, nil
	}
	p.CommitSHA = head.Hash().String()
	if head.Name().IsBranch() {
		p.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return p, nil
	}
	status, err := wt.Status()
	if err != nil {
		return p, nil
	}
	p.Dirty = !status.IsClean()

	return p, nil
}
