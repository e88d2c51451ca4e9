package webhook

import "context"

// EndpointSource is the store half of the registry contract.
type EndpointSource interface {
	FindEnabled(ctx context.Context, workspaceID string) ([]*Endpoint, error)
}

// Registry answers "which endpoints get this event": enabled endpoints of
// the workspace that subscribe to the event name. An empty answer is a
// valid no-op dispatch, not an error.
type Registry struct {
	src EndpointSource
}

func NewRegistry(src EndpointSource) *Registry {
	return &Registry{src: src}
}

func (r *Registry) EndpointsFor(ctx context.Context, workspaceID, eventName string) ([]*Endpoint, error) {
	enabled, err := r.src.FindEnabled(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	var out []*Endpoint
	for _, ep := range enabled {
		if ep.SubscribedTo(eventName) {
			out = append(out, ep)
		}
	}
	return out, nil
}
