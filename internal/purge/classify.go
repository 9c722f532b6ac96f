package purge

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Instance is a server record with the name the panel reported for it.
// Name is empty when the remote server no longer exists.
type Instance struct {
	Record *types.ServerRecord
	Name   string
}

// Retained reports whether a server name contains the retention keywords,
// ignoring case
func Retained(name, keywords string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(keywords))
}

// Partition splits instances into those kept by the keywords and those to
// delete. Order is preserved in both.
func Partition(instances []Instance, keywords string) (protected, candidates []Instance) {
	for _, in := range instances {
		if in.Name != "" && Retained(in.Name, keywords) {
			protected = append(protected, in)
		} else {
			candidates = append(candidates, in)
		}
	}
	return protected, candidates
}

// fetchNames reads the current remote name of every record. Records whose
// remote server is gone come back with an empty name; records that could not
// be fetched are returned separately.
func fetchNames(ctx context.Context, p Panel, records []*types.ServerRecord, concurrency int) (instances []Instance, failed []*types.ServerRecord, err error) {
	names := make([]string, len(records))
	ok := make([]bool, len(records))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, rec := range records {
		g.Go(func() error {
			remote, err := p.GetServer(gctx, rec.ServerID)
			switch {
			case err == nil:
				names[i] = remote.Name
				ok[i] = true
			case panel.IsNotFound(err):
				ok[i] = true
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				mu.Lock()
				failed = append(failed, rec)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i, rec := range records {
		if ok[i] {
			instances = append(instances, Instance{Record: rec, Name: names[i]})
		}
	}
	return instances, failed, nil
}
