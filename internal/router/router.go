// Package router maps work items to pipeline targets by label.
package router

import (
	"github.com/hochfrequenz/pipeline-orchestrator/internal/config"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// Router resolves which pipeline target handles a work item. It is built
// once from the immutable routing config; Route itself is pure and does
// no I/O.
type Router struct {
	routing *config.Routing
	index   map[string]string // normalized label (incl. aliases) -> route key
}

// New builds a Router from the routing table
func New(routing *config.Routing) *Router {
	index := make(map[string]string)
	for key, target := range routing.Routes {
		if key == config.Wildcard {
			continue
		}
		index[domain.NormalizeLabel(key)] = key
		for _, alias := range target.Aliases {
			index[domain.NormalizeLabel(alias)] = key
		}
	}
	return &Router{routing: routing, index: index}
}

// Route returns the target for the first item label that matches a routing
// key or alias, in the order the labels were supplied. Items with no
// matching label fall back to the wildcard route.
func (r *Router) Route(item *domain.WorkItem) config.RouteTarget {
	for _, label := range item.Labels {
		if key, ok := r.index[domain.NormalizeLabel(label)]; ok {
			return r.routing.Routes[key]
		}
	}
	return r.routing.Routes[config.Wildcard]
}
