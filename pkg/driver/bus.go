package driver

import "github.com/amirkhaki/lincheck/pkg/harness"

// Bus fans schedule lifecycle events out to registered listeners. It is an
// harness.Observer, forwarding calls and returns to every registered
// observer in registration order.
type Bus struct {
	pre, delay, post []func()
	observers        []harness.Observer
}

// RegisterPre adds fn to the hooks run before every schedule.
func (b *Bus) RegisterPre(fn func()) { b.pre = append(b.pre, fn) }

// RegisterDelay adds fn to the hooks run at every delay.
func (b *Bus) RegisterDelay(fn func()) { b.delay = append(b.delay, fn) }

// RegisterPost adds fn to the hooks run after every schedule.
func (b *Bus) RegisterPost(fn func()) { b.post = append(b.post, fn) }

// Listen adds o to the observers of calls and returns.
func (b *Bus) Listen(o harness.Observer) { b.observers = append(b.observers, o) }

func (b *Bus) NotifyPre()   { notify(b.pre) }
func (b *Bus) NotifyDelay() { notify(b.delay) }
func (b *Bus) NotifyPost()  { notify(b.post) }

func (b *Bus) OnCall(op *harness.Operation) {
	for _, o := range b.observers {
		o.OnCall(op)
	}
}

func (b *Bus) OnReturn(op *harness.Operation) {
	for _, o := range b.observers {
		o.OnReturn(op)
	}
}

func notify(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}
