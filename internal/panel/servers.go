package panel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateServer creates a server. It is never retried: a TransientError
// means the outcome is unknown and the caller should look the server up by
// its external ID.
func (c *Client) CreateServer(ctx context.Context, req CreateServerRequest) (*RemoteServer, error) {
	var resp object[RemoteServer]
	if err := c.do(ctx, c.once, "create server", http.MethodPost, "/servers", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// GetServer fetches a server with its allocations and variables
func (c *Client) GetServer(ctx context.Context, id int) (*RemoteServer, error) {
	var resp object[RemoteServer]
	path := fmt.Sprintf("/servers/%d?include=allocations,variables", id)
	if err := c.do(ctx, c.retrying, "get server", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// GetServerByExternalID fetches a server by the external ID it was created with
func (c *Client) GetServerByExternalID(ctx context.Context, externalID string) (*RemoteServer, error) {
	var resp object[RemoteServer]
	path := "/servers/external/" + url.PathEscape(externalID)
	if err := c.do(ctx, c.retrying, "get server by external id", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// UpdateBuild replaces the limits of a server
func (c *Client) UpdateBuild(ctx context.Context, id int, req BuildRequest) (*RemoteServer, error) {
	var resp object[RemoteServer]
	path := fmt.Sprintf("/servers/%d/build", id)
	if err := c.do(ctx, c.retrying, "update server build", http.MethodPatch, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// UpdateDetails replaces the name and description of a server
func (c *Client) UpdateDetails(ctx context.Context, id int, req DetailsRequest) (*RemoteServer, error) {
	var resp object[RemoteServer]
	path := fmt.Sprintf("/servers/%d/details", id)
	if err := c.do(ctx, c.retrying, "update server details", http.MethodPatch, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// DeleteServer deletes a server. A server that is already gone counts as
// deleted.
func (c *Client) DeleteServer(ctx context.Context, id int) error {
	path := fmt.Sprintf("/servers/%d", id)
	err := c.do(ctx, c.retrying, "delete server", http.MethodDelete, path, nil, nil)
	if IsNotFound(err) {
		c.logger.Debug("server already deleted")
		return nil
	}
	return err
}
