package pipeline

import "fmt"

// Stage names one step of a conversion run.
type Stage string

const (
	StageParse     Stage = "parse"
	StageHarmonize Stage = "harmonize"
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageInfer     Stage = "infer"
	StageArrange   Stage = "arrange"
	StageSerialize Stage = "serialize"
	StageRegister  Stage = "register"
)

// stageWeights are the shares of 100 each stage contributes in staged
// progress mode, in execution order.
var stageWeights = []struct {
	stage  Stage
	weight float64
}{
	{StageParse, 10},
	{StageHarmonize, 5},
	{StageExtract, 5},
	{StageNormalize, 5},
	{StageInfer, 40},
	{StageArrange, 10},
	{StageSerialize, 15},
	{StageRegister, 10},
}

// StageError is the terminal failure of a run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
