package ceremonytrigger

import (
	"strconv"
	"testing"

	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/statestore"
)

type fakeTracker struct {
	fired   map[string]bool
	records []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{fired: map[string]bool{}}
}

func key(typ statestore.CeremonyType, epicNum int) string {
	return string(typ) + ":" + strconv.Itoa(epicNum)
}

func (f *fakeTracker) HasCeremonyExecuted(typ statestore.CeremonyType, epicNum int) (bool, error) {
	return f.fired[key(typ, epicNum)], nil
}

func (f *fakeTracker) RecordCeremonyExecution(typ statestore.CeremonyType, epicNum int, success bool) error {
	f.fired[key(typ, epicNum)] = true
	f.records = append(f.records, string(typ))
	return nil
}

func TestEvaluateNoCeremoniesBelowLevel3(t *testing.T) {
	e := New(newFakeTracker())
	kinds := e.Evaluate(coordinator.TriggerContext{ScaleLevel: 1, StoriesCompleted: 2, TotalStories: 10})
	if len(kinds) != 0 {
		t.Fatalf("expected no ceremonies at scale level 1, got %v", kinds)
	}
}

func TestEvaluatePlanningFiresOnceAtEpicStart(t *testing.T) {
	tracker := newFakeTracker()
	e := New(tracker)

	kinds := e.Evaluate(coordinator.TriggerContext{EpicNum: 1, ScaleLevel: 3, StoriesCompleted: 1, TotalStories: 10})
	found := false
	for _, k := range kinds {
		if k == KindPlanning {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected planning to fire at scale 3, got %v", kinds)
	}

	if err := e.RecordOutcome(KindPlanning, 1, true); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	kinds = e.Evaluate(coordinator.TriggerContext{EpicNum: 1, ScaleLevel: 3, StoriesCompleted: 2, TotalStories: 10})
	for _, k := range kinds {
		if k == KindPlanning {
			t.Fatalf("expected planning not to refire after recording, got %v", kinds)
		}
	}
}

func TestEvaluateStandupIntervalLevel3(t *testing.T) {
	e := New(newFakeTracker())

	for completed := 1; completed <= 6; completed++ {
		kinds := e.Evaluate(coordinator.TriggerContext{ScaleLevel: 3, StoriesCompleted: completed, TotalStories: 10})
		wantsStandup := completed%2 == 0
		gotStandup := false
		for _, k := range kinds {
			if k == KindStandup {
				gotStandup = true
			}
		}
		if gotStandup != wantsStandup {
			t.Fatalf("at completed=%d expected standup=%v, got kinds=%v", completed, wantsStandup, kinds)
		}
	}
}

func TestEvaluateStandupIntervalLevel4(t *testing.T) {
	e := New(newFakeTracker())

	kinds := e.Evaluate(coordinator.TriggerContext{ScaleLevel: 4, StoriesCompleted: 5, TotalStories: 20})
	found := false
	for _, k := range kinds {
		if k == KindStandup {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected standup to fire at 5 completed stories for level 4, got %v", kinds)
	}
}

func TestEvaluateRetrospectiveFiresWhenEpicDone(t *testing.T) {
	tracker := newFakeTracker()
	e := New(tracker)

	kinds := e.Evaluate(coordinator.TriggerContext{EpicNum: 2, ScaleLevel: 2, StoriesCompleted: 5, TotalStories: 5})
	found := false
	for _, k := range kinds {
		if k == KindRetrospective {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected retrospective when stories_completed == total_stories, got %v", kinds)
	}
}

func TestEvaluateRetrospectiveDoesNotRefireOnceRecorded(t *testing.T) {
	tracker := newFakeTracker()
	e := New(tracker)

	e.Evaluate(coordinator.TriggerContext{EpicNum: 2, ScaleLevel: 2, StoriesCompleted: 5, TotalStories: 5})
	if err := e.RecordOutcome(KindRetrospective, 2, true); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	kinds := e.Evaluate(coordinator.TriggerContext{EpicNum: 2, ScaleLevel: 2, StoriesCompleted: 5, TotalStories: 5})
	for _, k := range kinds {
		if k == KindRetrospective {
			t.Fatalf("expected retrospective not to refire, got %v", kinds)
		}
	}
}
