package client

import (
	"context"
	"net/url"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/httpclient"
)

// IdentityClient implements service.IdentityClient against the platform
// identity service's HTTP API. It resolves approver candidates by role and
// escalation targets by reporting line.
type IdentityClient struct {
	http *httpclient.Client
}

// NewIdentityClient creates a client for the identity service at baseURL.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{http: httpclient.NewClient(baseURL)}
}

type usersByRoleResponse struct {
	UserIDs []string `json:"user_ids"`
}

type supervisorResponse struct {
	SupervisorID string `json:"supervisor_id"`
}

// GetUsersWithRole returns user ids holding the given role, optionally scoped
// to a department. An empty result is not an error: the caller leaves the
// level unassigned.
func (c *IdentityClient) GetUsersWithRole(ctx context.Context, role string, departmentID *string) ([]string, error) {
	q := url.Values{}
	q.Set("role", role)
	if departmentID != nil {
		q.Set("department_id", *departmentID)
	}

	var resp usersByRoleResponse
	if err := c.http.Get(ctx, "/internal/v1/users?"+q.Encode(), &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "identity: failed to list users by role")
	}
	return resp.UserIDs, nil
}

// GetSupervisor returns the escalation target for a user.
func (c *IdentityClient) GetSupervisor(ctx context.Context, userID string) (string, error) {
	var resp supervisorResponse
	if err := c.http.Get(ctx, "/internal/v1/users/"+url.PathEscape(userID)+"/supervisor", &resp); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "identity: failed to resolve supervisor")
	}
	if resp.SupervisorID == "" {
		return "", errors.NotFound("supervisor", userID)
	}
	return resp.SupervisorID, nil
}
