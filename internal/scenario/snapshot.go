package scenario

import (
	"context"

	"github.com/randalmurphal/whatif/internal/params"
)

// Snapshot takes a full-table snapshot under the scenario's shared lock.
// The after-side snapshot of a mutation does not come through here; it is
// taken inside the mutation's write lock via the Mutate post callback.
func (s *Store) Snapshot(ctx context.Context, id, table string) (*params.Snapshot, error) {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(id)
	lock.RLock()
	defer lock.RUnlock()

	c, err := s.conn(id, scn.StorePath)
	if err != nil {
		return nil, err
	}
	return params.Take(ctx, c, table)
}
