package core

import (
	"context"
	"time"
)

// GCResult reports the outcome of a CollectGarbage pass.
type GCResult struct {
	BlocksRemoved int
	BytesFreed    int64
	Duration      time.Duration
}

// CollectGarbage marks every block reachable from roots by following
// ExtractLinks breadth-first, then sweeps anything in the store that was
// not reached. Blocks added to the store after the mark phase begins are
// conservatively preserved, since they cannot yet be proven unreachable.
func CollectGarbage(ctx context.Context, s Store, roots []CID) (GCResult, error) {
	start := time.Now()

	all, err := s.ListCIDs(ctx)
	if err != nil {
		return GCResult{}, err
	}
	preserved, err := markReachable(ctx, s, roots)
	if err != nil {
		return GCResult{}, err
	}

	var result GCResult
	for _, c := range all {
		if preserved[c] {
			continue
		}
		size, ok, err := s.GetSize(ctx, c)
		if err != nil {
			return GCResult{}, err
		}
		if !ok {
			continue
		}
		if err := s.Delete(ctx, c); err != nil {
			return GCResult{}, err
		}
		result.BlocksRemoved++
		result.BytesFreed += int64(size)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func markReachable(ctx context.Context, s Store, roots []CID) (map[CID]bool, error) {
	seen := make(map[CID]bool)
	queue := append([]CID(nil), roots...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		b, err := s.Get(ctx, c)
		if err != nil {
			if errorsIsNotFound(err) {
				// A root or link that was never stored contributes no
				// reachability; nothing further to mark from it.
				seen[c] = true
				continue
			}
			return nil, err
		}
		seen[c] = true
		links, err := ExtractLinks(b)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if !seen[l] {
				queue = append(queue, l)
			}
		}
	}
	return seen, nil
}
