package fetch

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/libravcs/libra/pkg/libra"
)

// maxParallelRemotes caps how many remotes are fetched at once.
const maxParallelRemotes = 4

// RemoteResult is the outcome of fetching one remote.
type RemoteResult struct {
	Remote string
	Result *Result
	Err    error
}

// FetchAll fetches every configured remote concurrently. Remotes share no
// mutable state, so the pipelines need no locking; one remote's failure is
// recorded and never cancels the others.
func FetchAll(ctx context.Context, repo *libra.Repository, remotes map[string]string, opts Options) []RemoteResult {
	names := make([]string, 0, len(remotes))
	for name := range remotes {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]RemoteResult, len(names))
	p := pool.New().WithMaxGoroutines(maxParallelRemotes)
	for i, name := range names {
		i, name := i, name
		p.Go(func() {
			res, err := Fetch(ctx, repo, name, remotes[name], opts)
			results[i] = RemoteResult{Remote: name, Result: res, Err: err}
		})
	}
	p.Wait()
	return results
}
