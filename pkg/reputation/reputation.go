// Package reputation maintains per-address trust scores.
//
// Scores live in [0, 1000] and start at the neutral 500. Executions raise
// the proposer's score, rejections lower it, and every whole 30-day period
// without a touch moves the score about 5% of the way back to neutral.
package reputation

import "github.com/Mindburn-Labs/vault/pkg/contracts"

// DecayPeriod is the length of one decay step in seconds.
const DecayPeriod uint64 = 30 * 86_400

// Score adjustments applied on lifecycle outcomes.
const (
	ExecutedReward  uint32 = 10
	RejectedPenalty uint32 = 20
)

// Decay moves rep toward neutral for every whole period elapsed since the
// last decay and records now as the new decay point. An unset decay point is
// initialized without changing the score.
func Decay(rep *contracts.Reputation, now uint64) {
	if rep.LastDecay == 0 {
		rep.LastDecay = now
		return
	}
	if now <= rep.LastDecay {
		return
	}
	periods := (now - rep.LastDecay) / DecayPeriod
	if periods == 0 {
		return
	}
	for i := uint64(0); i < periods && rep.Score != contracts.ReputationNeutral; i++ {
		rep.Score = step(rep.Score)
	}
	// Only whole periods are consumed so a partial period carries over.
	rep.LastDecay += periods * DecayPeriod
}

// step moves score diff/20+1 toward neutral. It never passes neutral.
func step(score uint32) uint32 {
	n := contracts.ReputationNeutral
	switch {
	case score > n:
		return score - ((score-n)/20 + 1)
	case score < n:
		return score + ((n-score)/20 + 1)
	default:
		return score
	}
}

// OnCreated records a new proposal by the owner of rep.
func OnCreated(rep *contracts.Reputation) {
	rep.ProposalsCreated++
}

// OnApproval records an approval given by the owner of rep.
func OnApproval(rep *contracts.Reputation) {
	rep.ApprovalsGiven++
}

// OnExecuted records an executed proposal by the owner of rep.
func OnExecuted(rep *contracts.Reputation) {
	rep.ProposalsExecuted++
	rep.Score = raise(rep.Score, ExecutedReward)
}

// OnRejected records a rejected proposal by the owner of rep.
func OnRejected(rep *contracts.Reputation) {
	rep.ProposalsRejected++
	rep.Score = lower(rep.Score, RejectedPenalty)
}

func raise(score, delta uint32) uint32 {
	if score+delta > contracts.ReputationMax {
		return contracts.ReputationMax
	}
	return score + delta
}

func lower(score, delta uint32) uint32 {
	if delta > score {
		return contracts.ReputationMin
	}
	return score - delta
}
