// Package health classifies shard liveness from observable signals.
package health

import (
	"time"
)

// State is the health classification of a single shard.
type State string

const (
	// StateWorking means the agent process is alive and recently active.
	StateWorking State = "working"
	// StateIdle means the agent is alive but past the idle threshold.
	StateIdle State = "idle"
	// StateStuck is reserved for an alive agent that stopped making
	// progress. No current signal distinguishes stuck from idle, so the
	// classifier never emits it; idle is the conservative reading.
	StateStuck State = "stuck"
	// StateCrashed means a process was expected but is not running.
	StateCrashed State = "crashed"
	// StateUnknown means there is not enough signal to classify.
	StateUnknown State = "unknown"
)

// Classify maps observable process signals to a health state.
//
// Liveness dominates recency: a dead process is crashed no matter how fresh
// its last activity looks. With no activity timestamp at all the state is
// unknown rather than a guess.
func Classify(alive bool, lastActivity *time.Time, idleThreshold time.Duration) State {
	if !alive {
		return StateCrashed
	}
	if lastActivity == nil {
		return StateUnknown
	}
	if time.Since(*lastActivity) > idleThreshold {
		return StateIdle
	}
	return StateWorking
}

// Report pairs a shard id with its classification for aggregate output.
type Report struct {
	ShardID string `json:"shard_id"`
	State   State  `json:"state"`
}

// Summary is a per-state count across a set of reports.
type Summary struct {
	Working int `json:"working"`
	Idle    int `json:"idle"`
	Stuck   int `json:"stuck"`
	Crashed int `json:"crashed"`
	Unknown int `json:"unknown"`
}

// Aggregate tallies reports into a summary.
func Aggregate(reports []Report) Summary {
	var s Summary
	for _, r := range reports {
		switch r.State {
		case StateWorking:
			s.Working++
		case StateIdle:
			s.Idle++
		case StateStuck:
			s.Stuck++
		case StateCrashed:
			s.Crashed++
		default:
			s.Unknown++
		}
	}
	return s
}

// Total is the number of shards the summary covers.
func (s Summary) Total() int {
	return s.Working + s.Idle + s.Stuck + s.Crashed + s.Unknown
}
