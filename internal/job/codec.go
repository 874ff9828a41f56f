package job

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes a job with its "type" discriminator. Nil maps are
// written as empty objects.
func Marshal(j Job) ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s job: %w", j.Kind(), err)
	}
	return b, nil
}

// Unmarshal decodes a job produced by Marshal, dispatching on "type".
func Unmarshal(data []byte) (Job, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to read job type: %w", err)
	}

	var j Job
	switch head.Type {
	case KindCompilation:
		j = &CompilationJob{}
	case KindEvaluation:
		j = &EvaluationJob{}
	default:
		return nil, fmt.Errorf("unknown job type %q", head.Type)
	}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s job: %w", head.Type, err)
	}
	return j, nil
}

func (j CompilationJob) MarshalJSON() ([]byte, error) {
	type plain CompilationJob
	p := plain(j)
	p.Files = emptyIfNil(p.Files)
	p.Managers = emptyIfNil(p.Managers)
	p.Executables = emptyIfNil(p.Executables)
	p.Base = p.Base.normalized()
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindCompilation, p})
}

func (j *CompilationJob) UnmarshalJSON(data []byte) error {
	type plain CompilationJob
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.Files = emptyIfNil(p.Files)
	p.Managers = emptyIfNil(p.Managers)
	p.Executables = emptyIfNil(p.Executables)
	p.Base = p.Base.normalized()
	*j = CompilationJob(p)
	return nil
}

func (j EvaluationJob) MarshalJSON() ([]byte, error) {
	type plain EvaluationJob
	p := plain(j)
	p.Executables = emptyIfNil(p.Executables)
	p.Managers = emptyIfNil(p.Managers)
	p.Files = emptyIfNil(p.Files)
	p.Evaluations = emptyIfNil(p.Evaluations)
	if p.Testcases == nil {
		p.Testcases = []Testcase{}
	}
	p.Base = p.Base.normalized()
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindEvaluation, p})
}

// UnmarshalJSON turns the string keys of "evaluations" back into
// testcase numbers; encoding/json does this for map[int] keys.
func (j *EvaluationJob) UnmarshalJSON(data []byte) error {
	type plain EvaluationJob
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.Executables = emptyIfNil(p.Executables)
	p.Managers = emptyIfNil(p.Managers)
	p.Files = emptyIfNil(p.Files)
	p.Evaluations = emptyIfNil(p.Evaluations)
	if p.Testcases == nil {
		p.Testcases = []Testcase{}
	}
	p.Base = p.Base.normalized()
	*j = EvaluationJob(p)
	return nil
}

// normalized maps absent and null parameters to nil and compacts the rest,
// so that decoded jobs compare equal to the ones that were encoded.
func (b Base) normalized() Base {
	raw := bytes.TrimSpace(b.TaskTypeParameters)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		b.TaskTypeParameters = nil
		return b
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		b.TaskTypeParameters = buf.Bytes()
	}
	return b
}
