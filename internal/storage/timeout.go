package storage

import (
	"context"
	"time"

	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
)

// WithTimeout bounds every call of c by d. A zero or negative d returns c.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{Client: c, d: d}
}

type timeoutClient struct {
	Client
	d time.Duration
}

func (t *timeoutClient) FetchOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.FetchOne(ctx, network, kind, id)
}

func (t *timeoutClient) FetchMany(ctx context.Context, network uuid.UUID, kind models.Kind, q Query) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.FetchMany(ctx, network, kind, q)
}

func (t *timeoutClient) CreateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.CreateBatch(ctx, network, kind, resources)
}

func (t *timeoutClient) UpdateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.UpdateBatch(ctx, network, kind, resources)
}

func (t *timeoutClient) DeleteOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.DeleteOne(ctx, network, kind, id)
}

func (t *timeoutClient) ListNetworks(ctx context.Context) ([]*models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.ListNetworks(ctx)
}

func (t *timeoutClient) DeleteNetwork(ctx context.Context, network uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Client.DeleteNetwork(ctx, network)
}
