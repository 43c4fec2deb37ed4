// ABOUTME: Error taxonomy for battle admission, processing, and finalization
// ABOUTME: Sentinel errors surfaced through the boundary API as client-visible failures

package battle

import "errors"

var (
	// ErrAgentNotFound is returned at admission when the green agent or an
	// opponent does not exist in the directory.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidParticipants is returned at admission when the opponent list
	// does not satisfy the green agent's participant requirements.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrNotGreenAgent is returned at admission when the named coordinator
	// is not a green agent.
	ErrNotGreenAgent = errors.New("coordinating agent is not a green agent")

	// ErrAlreadyFinalized is returned when a result arrives for a battle
	// that already reached a terminal state.
	ErrAlreadyFinalized = errors.New("battle already finalized")

	// ErrBattleNotRunning is returned when a result arrives before the
	// battle has started running.
	ErrBattleNotRunning = errors.New("battle is not running")

	// ErrNotCancellable is returned when cancelling a battle that already
	// left the queue.
	ErrNotCancellable = errors.New("battle cannot be cancelled")
)
