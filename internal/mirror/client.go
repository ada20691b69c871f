// Package mirror reconciles local records against their upstream
// counterparts on a remote GitLab instance. Records carry an upstream
// project/IID mapping; the reconciler polls those proposals and folds
// upstream merges and closures back into the local store.
package mirror

import (
	"github.com/pkg/errors"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"
)

// Client wraps the upstream GitLab API client.
type Client struct {
	gitlab *gitlab.Client
	logger *zap.Logger
}

// NewClient builds an API client for the upstream instance.
func NewClient(baseURL, token string, logger *zap.Logger) (*Client, error) {
	api, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gitlab client")
	}
	return &Client{
		gitlab: api,
		logger: logger.Named("mirror"),
	}, nil
}

// MergeRequest fetches the upstream proposal by project and IID.
func (c *Client) MergeRequest(projectID int64, iid int) (*gitlab.MergeRequest, error) {
	mr, _, err := c.gitlab.MergeRequests.GetMergeRequest(int(projectID), iid, &gitlab.GetMergeRequestsOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get merge request %d in project %d", iid, projectID)
	}
	return mr, nil
}
