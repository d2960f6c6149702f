// Package cache defines the disk-backed store responsible for translating
// captured upstream responses into StoragePath/<generation>/<digest>.json
// files. A generation is a named, versioned snapshot of one cache category
// (static assets or dashboard data); generations are listed and deleted as
// units so the lifecycle layer can promote a freshly warmed generation and
// garbage-collect superseded ones. Writes go through temp file + rename and
// per-entry locks, so overlapping requests for the same key settle on
// last-writer-wins without ever exposing a partial entry.
package cache
