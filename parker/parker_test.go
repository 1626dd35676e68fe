package parker

import (
	"testing"
	"time"

	"github.com/CascadeOS/CascadeOS-sub010/faketest"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
)

func TestUnparkBeforeParkIsNotLost(t *testing.T) {
	sched := faketest.NewScheduler()
	p := New()
	task := &ktask.Task{}

	p.Unpark(sched, task)

	returned := make(chan struct{})
	go func() {
		p.Park(sched, task)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Park blocked despite an Unpark that arrived first")
	}
}

func TestParkThenUnparkWakesTheParkedTask(t *testing.T) {
	sched := faketest.NewScheduler()
	p := New()
	task := &ktask.Task{}

	parked := make(chan struct{})
	woke := make(chan struct{})

	sched.Spawn(task, func() {
		close(parked)
		p.Park(sched, task)
		close(woke)
	})
	sched.Start()

	<-parked

	deadline := time.Now().Add(5 * time.Second)
	for task.State() != ktask.Blocked {
		if time.Now().After(deadline) {
			t.Fatal("task never reached the Blocked state")
		}
		time.Sleep(time.Millisecond)
	}

	p.Unpark(sched, &ktask.Task{})
	sched.Drop() // dispatch the now-Ready parked task

	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("Unpark never woke the parked task")
	}
}

func TestRedundantUnparksCoalesceIntoOneWake(t *testing.T) {
	sched := faketest.NewScheduler()
	p := New()
	task := &ktask.Task{}

	// Multiple Unparks before any Park must still only grant a single
	// immediate return from the next Park call, never more than one.
	p.Unpark(sched, task)
	p.Unpark(sched, task)
	p.Unpark(sched, task)

	returned := make(chan struct{})
	go func() {
		p.Park(sched, task)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the first Park to return immediately")
	}

	// The Parker must not still believe a wake is pending: a second,
	// unrelated Park should genuinely block until parked.
	secondParked := make(chan struct{})
	other := &ktask.Task{}
	sched2 := faketest.NewScheduler()
	sched2.Spawn(other, func() {
		close(secondParked)
		p.Park(sched2, other)
	})
	sched2.Start()
	<-secondParked

	deadline := time.Now().Add(5 * time.Second)
	for other.State() != ktask.Blocked {
		if time.Now().After(deadline) {
			t.Fatal("expected the second Park to genuinely block")
		}
		time.Sleep(time.Millisecond)
	}
}
