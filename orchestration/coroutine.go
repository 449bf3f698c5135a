package orchestration

import (
	"runtime"

	"github.com/goliatone/go-durable/task"
)

// coroutine runs the orchestrator function on its own goroutine and hands
// control back and forth with the replay loop. Exactly one side runs at a
// time: the flow parks on yield and waits for resume.
type coroutine struct {
	resumeCh chan bool
	yieldCh  chan struct{}

	started  bool
	finished bool
	active   bool
	aborting bool
	awaiting task.Task
}

func newCoroutine() *coroutine {
	return &coroutine{
		resumeCh: make(chan bool),
		yieldCh:  make(chan struct{}),
	}
}

// start runs fn until it parks or returns.
func (c *coroutine) start(fn func()) {
	if c.started {
		return
	}
	c.started = true
	c.active = true
	go func() {
		defer func() {
			c.finished = true
			c.active = false
			c.awaiting = nil
			c.yieldCh <- struct{}{}
		}()
		fn()
	}()
	<-c.yieldCh
}

// park is called from the flow goroutine. It blocks until the loop resumes
// the flow, or exits the goroutine when the loop aborts it.
func (c *coroutine) park(t task.Task) {
	if c.aborting {
		runtime.Goexit()
	}
	c.awaiting = t
	c.active = false
	c.yieldCh <- struct{}{}
	ok := <-c.resumeCh
	c.awaiting = nil
	if !ok {
		runtime.Goexit()
	}
	c.active = true
}

// exit ends the flow goroutine from inside the flow.
func (c *coroutine) exit() {
	runtime.Goexit()
}

// ready reports whether the parked flow can make progress.
func (c *coroutine) ready() bool {
	return c.started && !c.finished && c.awaiting != nil && c.awaiting.IsDone()
}

// resume hands control to the parked flow until it parks again or returns.
func (c *coroutine) resume() {
	c.resumeCh <- true
	<-c.yieldCh
}

// abort unwinds a parked flow so its goroutine does not leak.
func (c *coroutine) abort() {
	if !c.started || c.finished {
		return
	}
	c.aborting = true
	c.resumeCh <- false
	<-c.yieldCh
}
