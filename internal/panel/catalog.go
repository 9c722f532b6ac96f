package panel

import (
	"context"
	"fmt"
)

// FindUnassignedAllocation returns the ID of the first free allocation on a
// node, or ErrNoAllocation
func (c *Client) FindUnassignedAllocation(ctx context.Context, nodeID int) (int, error) {
	found := 0
	err := getPaged(ctx, c, "list allocations", fmt.Sprintf("/nodes/%d/allocations", nodeID), func(page []Allocation) bool {
		for _, a := range page {
			if !a.Assigned {
				found = a.ID
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}

	if found == 0 {
		return 0, ErrNoAllocation
	}
	return found, nil
}

// ResolveEgg finds an egg by scanning every nest's eggs
func (c *Client) ResolveEgg(ctx context.Context, eggID int) (*Egg, error) {
	var nests []Nest
	err := getPaged(ctx, c, "list nests", "/nests", func(page []Nest) bool {
		nests = append(nests, page...)
		return false
	})
	if err != nil {
		return nil, err
	}

	for _, nest := range nests {
		var egg *Egg
		path := fmt.Sprintf("/nests/%d/eggs?include=variables", nest.ID)
		err := getPaged(ctx, c, "list eggs", path, func(page []Egg) bool {
			for i := range page {
				if page[i].ID == eggID {
					egg = &page[i]
					return true
				}
			}
			return false
		})
		if err != nil {
			return nil, err
		}
		if egg != nil {
			return egg, nil
		}
	}

	return nil, &NotFoundError{Op: "resolve egg", Detail: fmt.Sprintf("egg %d not found in any nest", eggID)}
}

// ListNodes returns every node
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	nodes := []Node{}
	err := getPaged(ctx, c, "list nodes", "/nodes", func(page []Node) bool {
		nodes = append(nodes, page...)
		return false
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
