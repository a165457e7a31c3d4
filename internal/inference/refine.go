package inference

import (
	"github.com/ashita-ai/kizuki/internal/model"
)

// Refine folds observed outcomes into a policy's effectiveness score and
// confidence. Only signals recorded after the policy was created count,
// and only those matching every policy condition. The effectiveness score
// is an exponential moving average of the matched success rate; confidence
// is nudged up when effectiveness clears 0.8 and decayed when it drops
// below 0.3. With no matching outcomes the policy is returned unchanged.
func (e *Engine) Refine(p model.Policy, outcomes []model.Signal) model.Policy {
	var matched, successful int
	for _, s := range outcomes {
		if !s.Timestamp.After(p.CreatedAt) {
			continue
		}
		if !policyMatches(p, s) {
			continue
		}
		matched++
		if s.Type == model.SignalCISuccess || s.Type == model.SignalPRApproval {
			successful++
		}
	}
	if matched == 0 {
		return p
	}

	successRate := float64(successful) / float64(matched)
	p.EffectivenessScore = (p.EffectivenessScore + successRate) / 2

	switch {
	case p.EffectivenessScore > 0.8:
		p.Confidence *= 1.1
		if p.Confidence > 1 {
			p.Confidence = 1
		}
	case p.EffectivenessScore < 0.3:
		p.Confidence *= 0.8
		if p.Confidence < 0.1 {
			p.Confidence = 0.1
		}
	}

	e.logger.Debug("refined policy",
		"policy", p.ID,
		"matched", matched,
		"success_rate", successRate,
		"effectiveness", p.EffectivenessScore,
		"confidence", p.Confidence)
	return p
}
