// Package session drives one job session end to end: parameter resolution,
// environment enter/exit, the per-frame task loop, and the failure and
// cancellation policy tying them together.
package session

import (
	"context"

	"github.com/kilnhq/kiln/internal/action"
)

//go:generate mockgen -source=interface.go -destination=mocks/runner_mock.go -package=mocks

// ActionRunner executes one resolved action invocation. The production
// implementation is action.ProcessRunner; tests substitute a mock to verify
// dispatch ordering without spawning processes.
type ActionRunner interface {
	Run(ctx context.Context, cmd action.Command) (*action.Result, error)
}
