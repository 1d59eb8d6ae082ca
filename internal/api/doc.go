// Package api hosts the HTTP handlers for the vodforge upload and catalog
// endpoints.
//
// Handler coordinates request validation and response shaping while delegating
// persistence to a storage.Repository and job dispatch to a queue.Queue, both
// injected at construction time. The package does not reach for globals and
// expects callers to supply fully configured dependencies.
//
// Handlers assume upstream middleware from internal/server already covers
// request IDs, metrics, and logging; new routes should lean on those
// guarantees rather than duplicating them.
package api
