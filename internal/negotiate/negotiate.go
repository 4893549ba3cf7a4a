// Package negotiate computes the bounded "have" set advertised to a remote:
// a recency-biased walk from every local branch tip, capped at MaxHaves, that
// tells the remote roughly what the client already owns without enumerating
// full history.
package negotiate

import (
	"container/heap"

	"github.com/cespare/xxhash/v2"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
)

// MaxHaves is the emission cap. It mirrors upstream Git's negotiation
// heuristic and is relied on by remotes for bounded request sizes; do not
// raise it casually.
const MaxHaves = 32

// CommitGetter resolves a commit id to its parsed object.
type CommitGetter interface {
	Commit(id hash.Hash) (*objects.Commit, error)
}

type candidate struct {
	id   hash.Hash
	when int64
	seq  int
}

// candidateHeap is a max-heap on committer timestamp; equal timestamps pop
// in insertion order so branch tips win over their ancestors.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when > h[j].when
	}
	return h[i].seq < h[j].seq
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// BuildHaves walks the commit graph newest-first from the given tips and
// returns at most MaxHaves commit ids in strictly the order they were
// emitted (decreasing committer timestamp). Tips are deduplicated; tips that
// do not resolve to a commit are skipped. Parents of a commit are only
// enqueued when the commit itself was emitted, so the cap never admits a
// parent whose child was cut off by it.
func BuildHaves(graph CommitGetter, tips []hash.Hash) ([]hash.Hash, error) {
	var (
		pq      candidateHeap
		seq     int
		visited = make(map[uint64]struct{})
	)
	seen := func(id hash.Hash) bool {
		fp := xxhash.Sum64(id.Bytes())
		if _, ok := visited[fp]; ok {
			return true
		}
		visited[fp] = struct{}{}
		return false
	}
	push := func(id hash.Hash) {
		if id.IsZero() || seen(id) {
			return
		}
		commit, err := graph.Commit(id)
		if err != nil {
			// Tips may point at tags or missing objects; they simply
			// do not contribute to the have set.
			return
		}
		heap.Push(&pq, candidate{id: id, when: commit.Committer().When.Unix(), seq: seq})
		seq++
	}

	for _, tip := range tips {
		push(tip)
	}

	haves := make([]hash.Hash, 0, MaxHaves)
	for len(haves) < MaxHaves && pq.Len() > 0 {
		c := heap.Pop(&pq).(candidate)
		haves = append(haves, c.id)
		if len(haves) == MaxHaves {
			break
		}
		commit, err := graph.Commit(c.id)
		if err != nil {
			continue
		}
		for _, parent := range commit.Parents() {
			push(parent)
		}
	}
	return haves, nil
}
