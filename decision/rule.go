// Package decision turns classifier probabilities into a per-person decision.
package decision

import (
	iface "CheatDetServer/interface"
)

// DefaultDominanceFactor is how many times more likely "cheating" must be than
// "not cheating" before a person is flagged.
const DefaultDominanceFactor = 10000

// DefaultLabels are the class labels in classifier output order.
var DefaultLabels = []string{"cheating", "not_cheating", "uncertain"}

type Rule struct {
	// DominanceFactor is K in p0 >= K*p1.
	DominanceFactor float32
	// SeparateNotCheating reports NOT_CHEATING instead of UNCERTAIN when class 1
	// is the arg-max. Off by default: any non-cheating arg-max is UNCERTAIN.
	SeparateNotCheating bool
	Labels              []string
}

func NewRule() Rule {
	return Rule{
		DominanceFactor: DefaultDominanceFactor,
		Labels:          DefaultLabels,
	}
}

// Decide maps [p0, p1, p2] to a decision. Ties for the maximum go to class 0.
func (r Rule) Decide(probs [iface.NumClasses]float32) iface.Decision {
	m := max(probs[0], probs[1], probs[2])
	if probs[0] == m {
		if probs[0] >= r.DominanceFactor*probs[1] {
			return iface.Cheating
		}
		return iface.NotCheating
	}
	if r.SeparateNotCheating && probs[1] == m {
		return iface.NotCheating
	}
	return iface.Uncertain
}

// TopCategory returns the arg-max class with its label.
func (r Rule) TopCategory(probs [iface.NumClasses]float32) iface.Category {
	best := 0
	for i := 1; i < iface.NumClasses; i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	labels := r.Labels
	if len(labels) < iface.NumClasses {
		labels = DefaultLabels
	}
	return iface.Category{Label: labels[best], Score: probs[best]}
}
