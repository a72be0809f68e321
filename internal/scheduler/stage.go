package scheduler

import "fmt"

// Stage is the position of a job in the insert pipeline
type Stage int

const (
	StageIdle Stage = iota
	StageInsertRequested
	StageAwaitingInsertCompletion
	StageSettleWait
	StageLocating
	StageTransforming
	StageVerifying
	StageDone
	StageFailed
)

var stageNames = map[Stage]string{
	StageIdle:                     "Idle",
	StageInsertRequested:          "InsertRequested",
	StageAwaitingInsertCompletion: "AwaitingInsertCompletion",
	StageSettleWait:               "SettleWait",
	StageLocating:                 "Locating",
	StageTransforming:             "Transforming",
	StageVerifying:                "Verifying",
	StageDone:                     "Done",
	StageFailed:                   "Failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}
