package policy

import (
	"context"
	"fmt"

	"github.com/polisai/polis-safety/pkg/domain"
)

// Executor is anything that can execute a policy input.
type Executor interface {
	Name() string
	Execute(ctx context.Context, input domain.PolicyInput) (Result, error)
}

// Chain composes multiple policies, feeding each stage's output into the next
// and stopping at the first failure.
type Chain struct {
	stages []Executor
}

// NewChain constructs a policy chain.
func NewChain(stages ...Executor) Chain {
	return Chain{stages: append([]Executor(nil), stages...)}
}

// Len returns the number of stages.
func (c Chain) Len() int { return len(c.stages) }

// ChainResult holds the results of every stage that ran.
type ChainResult struct {
	Stages []Result `json:"stages"`
	// Output is the output of the last stage, or the input passed through
	// when the chain is empty.
	Output domain.PolicyOutput `json:"policy_output"`
}

// Maps returns the transformation map of each stage in order. Each map is
// keyed by item index and refers to the texts that stage received.
func (r ChainResult) Maps() []domain.TransformationMap {
	maps := make([]domain.TransformationMap, 0, len(r.Stages))
	for _, s := range r.Stages {
		maps = append(maps, s.Output.TransformationMap)
	}
	return maps
}

// Restore reverses every stage, last to first, for item idx of the final output.
func (r ChainResult) Restore(idx int, text string) (string, error) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		restored, err := r.Stages[i].Output.TransformationMap.Restore(idx, text)
		if err != nil {
			return "", fmt.Errorf("stage %d (%s): %w", i, r.Stages[i].Policy, err)
		}
		text = restored
	}
	return text, nil
}

// Execute runs the chain. On failure it returns the stages completed so far
// together with the error of the failing stage; no later stage runs.
func (c Chain) Execute(ctx context.Context, input domain.PolicyInput) (ChainResult, error) {
	result := ChainResult{Stages: make([]Result, 0, len(c.stages))}
	if len(c.stages) == 0 {
		result.Output = domain.PassThrough(input, domain.ActionOutput{ActionTaken: domain.ActionAllow})
		return result, nil
	}

	next := input
	for i, stage := range c.stages {
		res, err := stage.Execute(ctx, next)
		if err != nil {
			return result, &StageError{Index: i, Policy: stage.Name(), Err: err}
		}
		result.Stages = append(result.Stages, res)
		result.Output = res.Output
		next = res.Output.NextInput()
	}
	return result, nil
}

// StageError identifies the chain stage that failed.
type StageError struct {
	Index  int
	Policy string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("chain stage %d (%s): %v", e.Index, e.Policy, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
