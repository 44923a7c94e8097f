package main

import (
	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/scaleplanner"
)

// toCoordinatorSequence converts the scale planner's sequence shape into the
// coordinator's, keeping the two packages decoupled per their own doc
// comments — this is the one place that bridges them.
func toCoordinatorSequence(seq scaleplanner.WorkflowSequence) coordinator.Sequence {
	return coordinator.Sequence{Setup: seq.Setup, StoryLoop: seq.StoryLoop}
}
