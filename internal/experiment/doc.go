// Package experiment implements variant assignment for A/B experiments.
//
// The service layer owns the assignment lifecycle: finding the active
// experiment whose targeting matches a visitor's segment, drawing a variant,
// and recording conversions. It depends on the Repository interface defined
// in this package; the Postgres implementation lives in store.go.
//
// The central invariant is at-most-one assignment per (visitor, experiment
// key). The repository enforces it with a conditional upsert at the storage
// boundary, so the guarantee holds across concurrent requests and multiple
// stateless server instances.
package experiment
