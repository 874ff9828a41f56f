package scoretypes

import (
	"encoding/json"
	"fmt"
	"math"
)

// group is one subtask: a maximum score over the next Count testcases in
// num order.
type group struct {
	Max   float64
	Count int
}

type reducer func(outcomes []float64) float64

func reduceMin(outcomes []float64) float64 {
	res := math.Inf(1)
	for _, o := range outcomes {
		res = math.Min(res, o)
	}
	return res
}

func reduceMul(outcomes []float64) float64 {
	res := 1.0
	for _, o := range outcomes {
		res *= o
	}
	return res
}

func reduceMean(outcomes []float64) float64 {
	total := 0.0
	for _, o := range outcomes {
		total += o
	}
	return total / float64(len(outcomes))
}

// groupType scores each subtask as reduce(outcomes) * max. Parameters
// are [[max, count, ...], ...]; the counts must cover every testcase.
type groupType struct {
	groups []group
	reduce reducer
	public map[int]bool
	nums   []int
}

func newGroup(reduce reducer) constructor {
	return func(params json.RawMessage, public map[int]bool) (scoreType, error) {
		var raw [][]float64
		if err := json.Unmarshal(params, &raw); err != nil {
			return nil, fmt.Errorf("group parameters must be [[max, count], ...]: %w", err)
		}
		groups := make([]group, 0, len(raw))
		covered := 0
		for i, g := range raw {
			if len(g) < 2 {
				return nil, fmt.Errorf("group %d: expected [max, count]", i+1)
			}
			count := int(g[1])
			if float64(count) != g[1] || count < 1 {
				return nil, fmt.Errorf("group %d: count %v is not a positive integer", i+1, g[1])
			}
			groups = append(groups, group{Max: g[0], Count: count})
			covered += count
		}
		if covered != len(public) {
			return nil, fmt.Errorf("groups cover %d testcases, dataset has %d", covered, len(public))
		}
		return &groupType{groups: groups, reduce: reduce, public: public, nums: sortedNums(public)}, nil
	}
}

func (g *groupType) groupPublic(members []int) bool {
	for _, num := range members {
		if !g.public[num] {
			return false
		}
	}
	return true
}

func (g *groupType) maxScores() (float64, float64) {
	var score, public float64
	start := 0
	for _, grp := range g.groups {
		members := g.nums[start : start+grp.Count]
		score += grp.Max
		if g.groupPublic(members) {
			public += grp.Max
		}
		start += grp.Count
	}
	return score, public
}

type subtaskDetail struct {
	Idx       int              `json:"idx"`
	Score     *float64         `json:"score,omitempty"`
	MaxScore  *float64         `json:"max_score,omitempty"`
	Testcases []testcaseDetail `json:"testcases"`
}

// compute reports a subtask's score publicly only when all of its
// testcases are public; otherwise the public view lists the testcase
// numbers and shows details of the public ones.
func (g *groupType) compute(sub Submission) (Result, error) {
	if !sub.Evaluated {
		return notEvaluated(g.groups)
	}

	var score, public float64
	subtasks := make([]subtaskDetail, 0, len(g.groups))
	publicSubtasks := make([]subtaskDetail, 0, len(g.groups))
	ranking := make([]string, 0, len(g.groups))

	start := 0
	for i, grp := range g.groups {
		members := g.nums[start : start+grp.Count]
		start += grp.Count

		outcomes := make([]float64, len(members))
		testcases := make([]testcaseDetail, len(members))
		publicTestcases := make([]testcaseDetail, len(members))
		for j, num := range members {
			ev, ok := sub.Evaluations[num]
			outcomes[j] = ev.Outcome
			testcases[j] = testcaseDetail{Idx: num}
			if ok {
				testcases[j] = detailFor(num, ev)
			}
			publicTestcases[j] = testcaseDetail{Idx: num}
			if g.public[num] {
				publicTestcases[j] = testcases[j]
			}
		}

		stScore := g.reduce(outcomes) * grp.Max
		stMax := grp.Max
		st := subtaskDetail{Idx: i + 1, Score: &stScore, MaxScore: &stMax, Testcases: testcases}
		subtasks = append(subtasks, st)
		score += stScore

		if g.groupPublic(members) {
			publicSubtasks = append(publicSubtasks, st)
			public += stScore
		} else {
			publicSubtasks = append(publicSubtasks, subtaskDetail{Idx: i + 1, Testcases: publicTestcases})
		}
		ranking = append(ranking, rankingValue(stScore))
	}

	d, pd, err := encodeDetails(subtasks, publicSubtasks)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Score:          score,
		Details:        d,
		PublicScore:    public,
		PublicDetails:  pd,
		RankingDetails: ranking,
	}, nil
}
