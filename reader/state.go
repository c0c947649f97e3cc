package reader

//go:generate go tool go-enum --names

// State is where chapter view is in its initialization pipeline.
// ENUM(uninitialized, resolving-source, awaiting-viewport, creating-session, resolving-target, awaiting-render, ready, error)
type State int
