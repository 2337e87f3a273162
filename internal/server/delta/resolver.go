package delta

import (
	"fmt"
	"time"
)

// Strategy selects how a divergence is settled. The zero value is not valid;
// StrategyCreateVersion is the safe default callers should fall back to.
type Strategy int

const (
	// StrategyKeepServer discards the incoming change; the device re-pulls.
	StrategyKeepServer Strategy = iota + 1
	// StrategyKeepLocal supersedes the server content with the incoming
	// write; a fresh version is appended.
	StrategyKeepLocal
	// StrategyCreateVersion keeps both: the winner stays current and the
	// loser is persisted as a conflict-copy version for manual review.
	StrategyCreateVersion
)

func (s Strategy) String() string {
	switch s {
	case StrategyKeepServer:
		return "keep_server"
	case StrategyKeepLocal:
		return "keep_local"
	case StrategyCreateVersion:
		return "create_version"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps the wire name to a Strategy. Empty input selects the
// safe default.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "keep_server":
		return StrategyKeepServer, nil
	case "keep_local":
		return StrategyKeepLocal, nil
	case "create_version", "":
		return StrategyCreateVersion, nil
	}
	return 0, fmt.Errorf("unknown resolution strategy %q", name)
}

// Candidate is one side of a divergence: a concrete content state with its
// provenance.
type Candidate struct {
	Checksum   string
	ModifiedAt time.Time
	DeviceID   string
}

// Less orders candidates for last-write-wins: earlier modification time
// loses; on equal timestamps the lexicographically lower device id loses.
// The ordering is total and independent of argument order, which is what
// makes replicated merges converge.
func (c Candidate) Less(other Candidate) bool {
	if !c.ModifiedAt.Equal(other.ModifiedAt) {
		return c.ModifiedAt.Before(other.ModifiedAt)
	}
	return c.DeviceID < other.DeviceID
}

// Merge resolves two candidates into a winner and a loser. Pure,
// commutative and associative: merge(a, b) == merge(b, a), and folding any
// permutation of a candidate set yields the same winner.
func Merge(a, b Candidate) (winner, loser Candidate) {
	if a.Less(b) {
		return b, a
	}
	return a, b
}

// MergeAll folds a non-empty candidate list to its winner.
func MergeAll(candidates []Candidate) Candidate {
	winner := candidates[0]
	for _, c := range candidates[1:] {
		winner, _ = Merge(winner, c)
	}
	return winner
}
