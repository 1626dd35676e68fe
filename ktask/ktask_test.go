package ktask

import "testing"

func TestTaskStateRoundTrips(t *testing.T) {
	task := &Task{}
	if got := task.State(); got != Running {
		t.Fatalf("zero-value State() = %v, want Running", got)
	}

	task.SetState(Blocked)
	if got := task.State(); got != Blocked {
		t.Fatalf("State() after SetState(Blocked) = %v, want Blocked", got)
	}

	task.SetState(Ready)
	if got := task.State(); got != Ready {
		t.Fatalf("State() after SetState(Ready) = %v, want Ready", got)
	}
}

func TestTaskNextTaskNodeChainsSingleFile(t *testing.T) {
	a, b, c := &Task{}, &Task{}, &Task{}
	a.NextTaskNode = b
	b.NextTaskNode = c

	n := 0
	for cur := a; cur != nil; cur = cur.NextTaskNode {
		n++
	}
	if n != 3 {
		t.Fatalf("walked %d nodes, want 3", n)
	}
}
