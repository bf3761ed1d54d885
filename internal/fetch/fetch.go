// Package fetch is the package fetcher: it resolves a model.Package
// {repo, ref} pair to a concrete commit and downloads its source tarball,
// using the oauth2-authenticated go-github client wiring found in an
// autobuilder command elsewhere in the retrieval pack
// (oauth2.StaticTokenSource -> oauth2.NewClient -> github.NewClient ->
// client.Repositories.*) to query GitHub's commit and tarball-link APIs.
package fetch

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// Resolved is a package pinned to a concrete commit, ready to download.
type Resolved struct {
	Repo       string
	Ref        string
	CommitSHA  string
	TarballURL string
}

// Fetcher resolves model.Package references against GitHub. AccessToken
// may be empty for unauthenticated (rate-limited) access.
type Fetcher struct {
	AccessToken string

	mu        sync.Mutex
	resolving map[string]bool // "repo@ref" currently being resolved, for cycle detection
}

func (f *Fetcher) client(ctx context.Context) *github.Client {
	if f.AccessToken == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: f.AccessToken})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc)
}

func ownerRepo(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimPrefix(repoURL, "https://github.com/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", xerrors.Errorf("not a github.com repo URL: %q", repoURL)
	}
	return parts[0], parts[1], nil
}

// Resolve looks up the commit ref points at within repo and returns a
// Resolved package, ready for Download. Recursively resolving the same
// {repo, ref} pair while it is already being resolved (a package whose
// own declared packages cycle back to it) is reported as a
// *rgerrors.PackageError naming the cycle, rather than recursing forever.
func (f *Fetcher) Resolve(ctx context.Context, pkg model.Package) (*Resolved, error) {
	key := pkg.Repo + "@" + pkg.Ref

	f.mu.Lock()
	if f.resolving == nil {
		f.resolving = make(map[string]bool)
	}
	if f.resolving[key] {
		f.mu.Unlock()
		return nil, &rgerrors.PackageError{Repo: pkg.Repo, Ref: pkg.Ref, Cause: xerrors.Errorf("cycle resolving package %s", key)}
	}
	f.resolving[key] = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.resolving, key)
		f.mu.Unlock()
	}()

	owner, repo, err := ownerRepo(pkg.Repo)
	if err != nil {
		return nil, &rgerrors.PackageError{Repo: pkg.Repo, Ref: pkg.Ref, Cause: err}
	}
	client := f.client(ctx)

	commit, _, err := client.Repositories.GetCommit(ctx, owner, repo, pkg.Ref)
	if err != nil {
		return nil, &rgerrors.PackageError{Repo: pkg.Repo, Ref: pkg.Ref, Cause: err}
	}

	url, _, err := client.Repositories.GetArchiveLink(ctx, owner, repo, github.Tarball, &github.RepositoryContentGetOptions{Ref: pkg.Ref})
	if err != nil {
		return nil, &rgerrors.PackageError{Repo: pkg.Repo, Ref: pkg.Ref, Cause: err}
	}

	return &Resolved{
		Repo:       pkg.Repo,
		Ref:        pkg.Ref,
		CommitSHA:  commit.GetSHA(),
		TarballURL: url.String(),
	}, nil
}

// Download fetches r's tarball via a plain HTTP GET against its resolved
// URL (already signed/authorized by GetArchiveLink), returning the
// response body for the caller to stream into an extractor. The caller
// owns closing the returned body.
func Download(ctx context.Context, r *Resolved) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.TarballURL, nil)
	if err != nil {
		return nil, &rgerrors.PackageError{Repo: r.Repo, Ref: r.Ref, Cause: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &rgerrors.PackageError{Repo: r.Repo, Ref: r.Ref, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &rgerrors.PackageError{Repo: r.Repo, Ref: r.Ref, Cause: xerrors.Errorf("unexpected status %s", resp.Status)}
	}
	return resp, nil
}
