package challenge

// ConsensusResult is the verdict of the two-player victory gate
type ConsensusResult int

const (
	// ConsensusIncomplete means at least one participant has not nominated a winner yet
	ConsensusIncomplete ConsensusResult = iota
	// ConsensusDisagreed means both nominated but named different winners
	ConsensusDisagreed
	// ConsensusAgreed means both nominated the same winner
	ConsensusAgreed
)

// String renders the verdict for logs and the admin diagnostics payload
func (r ConsensusResult) String() string {
	switch r {
	case ConsensusAgreed:
		return "AGREED"
	case ConsensusDisagreed:
		return "DISAGREED"
	default:
		return "INCOMPLETE"
	}
}

// CheckConsensus evaluates the victory gate over a challenge's nomination
// map: both the creator and the invitee must have nominated, and their
// nominations must name the same user. Pure function over its inputs so the
// same check serves the claim handler, the admin diagnostics, and tests.
func CheckConsensus(nominations map[string]string, creatorID, inviteeID string) (string, ConsensusResult) {
	creatorSel, creatorOK := nominations[creatorID]
	inviteeSel, inviteeOK := nominations[inviteeID]

	if !creatorOK || !inviteeOK {
		return "", ConsensusIncomplete
	}
	if creatorSel != inviteeSel {
		return "", ConsensusDisagreed
	}
	return creatorSel, ConsensusAgreed
}
