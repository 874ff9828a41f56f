package scoretypes

import (
	"encoding/json"
	"fmt"
)

// sum gives every testcase the same weight: the parameter is the score of
// a fully correct testcase.
type sum struct {
	weight float64
	public map[int]bool
	nums   []int
}

func newSum(params json.RawMessage, public map[int]bool) (scoreType, error) {
	var weight float64
	if err := json.Unmarshal(params, &weight); err != nil {
		return nil, fmt.Errorf("Sum expects a number as parameter: %w", err)
	}
	return &sum{weight: weight, public: public, nums: sortedNums(public)}, nil
}

func (s *sum) maxScores() (float64, float64) {
	public := 0
	for _, num := range s.nums {
		if s.public[num] {
			public++
		}
	}
	return s.weight * float64(len(s.nums)), s.weight * float64(public)
}

func (s *sum) compute(sub Submission) (Result, error) {
	if !sub.Evaluated {
		return notEvaluated(nil)
	}
	total, public, details, publicDetails := collect(s.nums, s.public, sub)
	d, pd, err := encodeDetails(details, publicDetails)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Score:          total * s.weight,
		Details:        d,
		PublicScore:    public * s.weight,
		PublicDetails:  pd,
		RankingDetails: []string{},
	}, nil
}

// relative scales the mean outcome to the parameter. The public score is
// the mean over public testcases only, so hidden testcases do not dilute it.
type relative struct {
	top    float64
	public map[int]bool
	nums   []int
}

func newRelative(params json.RawMessage, public map[int]bool) (scoreType, error) {
	var top float64
	if err := json.Unmarshal(params, &top); err != nil {
		return nil, fmt.Errorf("Relative expects a number as parameter: %w", err)
	}
	return &relative{top: top, public: public, nums: sortedNums(public)}, nil
}

func (r *relative) publicCount() int {
	n := 0
	for _, num := range r.nums {
		if r.public[num] {
			n++
		}
	}
	return n
}

func (r *relative) maxScores() (float64, float64) {
	if len(r.nums) == 0 {
		return 0, 0
	}
	if r.publicCount() == 0 {
		return r.top, 0
	}
	return r.top, r.top
}

func (r *relative) compute(sub Submission) (Result, error) {
	if !sub.Evaluated {
		return notEvaluated(nil)
	}
	total, public, details, publicDetails := collect(r.nums, r.public, sub)

	res := Result{RankingDetails: []string{}}
	if len(r.nums) > 0 {
		res.Score = r.top * total / float64(len(r.nums))
	}
	if n := r.publicCount(); n > 0 {
		res.PublicScore = r.top * public / float64(n)
	}

	var err error
	res.Details, res.PublicDetails, err = encodeDetails(details, publicDetails)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// collect sums the outcomes of all and of public testcases and builds the
// per-testcase details. Private testcases are left out of the public
// details entirely.
func collect(nums []int, publicSet map[int]bool, sub Submission) (float64, float64, []testcaseDetail, []testcaseDetail) {
	var total, public float64
	details := make([]testcaseDetail, 0, len(nums))
	publicDetails := []testcaseDetail{}
	for _, num := range nums {
		ev, ok := sub.Evaluations[num]
		d := testcaseDetail{Idx: num}
		if ok {
			d = detailFor(num, ev)
		}
		details = append(details, d)
		total += ev.Outcome
		if publicSet[num] {
			publicDetails = append(publicDetails, d)
			public += ev.Outcome
		}
	}
	return total, public, details, publicDetails
}

// notEvaluated is the result of a submission that did not compile or was
// not evaluated: zero scores and one zero ranking entry per group.
func notEvaluated(groups []group) (Result, error) {
	ranking := make([]string, len(groups))
	for i := range ranking {
		ranking[i] = rankingValue(0)
	}
	return Result{
		Details:        json.RawMessage("[]"),
		PublicDetails:  json.RawMessage("[]"),
		RankingDetails: ranking,
	}, nil
}
