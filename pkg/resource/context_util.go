package resource

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

type contextKey string

const ResourceKey contextKey = "resource"

var ErrNoResource = errors.New("resource not found in context")

// CurrentId retrieves the request resource's ID from the context. Returns ErrNoResource if absent.
func CurrentId(ctx context.Context) (int, error) {
	r, err := CurrentResource(ctx)
	if err != nil {
		return 0, err
	}
	return r.Id, nil
}

func CurrentResource(ctx context.Context) (Resource, error) {
	r, ok := ctx.Value(ResourceKey).(Resource)
	if !ok {
		log.Trace("resource not found in context")
		return Resource{}, ErrNoResource
	}
	return r, nil
}

func WithResource(ctx context.Context, r Resource) context.Context {
	return context.WithValue(ctx, ResourceKey, r)
}
