// Package verdict turns a scored result tree into a pass/fail decision.
package verdict

import (
	"fmt"

	"github.com/pavelanni/taskeval/internal/model"
)

const epsilon = 1e-9

// Percentage is 100·achieved/max, or 0 when nothing could be scored.
func Percentage(achieved, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	p := 100 * achieved / possible
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Resolve applies p to root. The overall threshold, every critical group
// (listed in the policy or flagged in the rubric) and every critical item
// must be satisfied for the verdict to pass.
func Resolve(root *model.ResultGroup, p model.Policy) model.Verdict {
	v := model.Verdict{FailureReasons: []string{}}
	if root == nil {
		v.FailureReasons = append(v.FailureReasons, "nothing was scored")
		return v
	}
	v.TotalPoints = root.AchievedPoints
	v.MaxPoints = root.MaxPoints
	v.Percentage = Percentage(root.AchievedPoints, root.MaxPoints)

	passing := p.Passing()
	overallOK := v.Percentage >= passing-epsilon
	if !overallOK {
		v.FailureReasons = append(v.FailureReasons,
			fmt.Sprintf("overall score %.2f%% is below the passing threshold of %.2f%%", v.Percentage, passing))
	}

	criticalOK := true
	policyMin := make(map[string]float64, len(p.CriticalGroups))
	for _, cg := range p.CriticalGroups {
		policyMin[cg.ID] = cg.MinFraction
		if root.Find(cg.ID) == nil {
			criticalOK = false
			v.FailureReasons = append(v.FailureReasons,
				fmt.Sprintf("critical section %q was not found in the results", cg.ID))
		}
	}

	root.Walk(func(g *model.ResultGroup) {
		need, listed := policyMin[g.ID]
		if !listed && !g.Critical {
			return
		}
		if !listed {
			need = 1
			if g.MinFraction != nil {
				need = *g.MinFraction
			}
		}
		if g.MaxPoints == 0 || g.Fraction >= need-epsilon {
			return
		}
		criticalOK = false
		v.FailureReasons = append(v.FailureReasons,
			fmt.Sprintf("critical section %s scored %.2f%%, below the required %.2f%%",
				label(g), 100*g.Fraction, 100*need))
	})

	root.Walk(func(g *model.ResultGroup) {
		for _, it := range g.Items {
			if !it.Critical || it.MaxPoints == 0 || it.Correct {
				continue
			}
			criticalOK = false
			v.FailureReasons = append(v.FailureReasons,
				fmt.Sprintf("critical item %q did not receive full credit", it.ID))
		}
	})

	v.Passed = overallOK && criticalOK
	if d := p.DistinctionPercentage; d != nil && v.Passed && v.Percentage >= *d-epsilon {
		v.Tier = model.TierDistinction
	}
	return v
}

func label(g *model.ResultGroup) string {
	if g.Title != "" && g.Title != g.ID {
		return fmt.Sprintf("%q (%s)", g.ID, g.Title)
	}
	return fmt.Sprintf("%q", g.ID)
}
