// Package core is the orchestration layer.  It turns profiles into
// transport adapters and composes the broker with its consumers into
// the two things termlink does: attach a terminal to one connection,
// or serve connections over the network.
//
// Architecture layers (bottom → top):
//
//	transport  →  broker  →  console / server  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of termlink (connect or listen).
// Each mode owns its full lifecycle from setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
