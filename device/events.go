package device

import "github.com/cowboyrushforth/fprintvirt/fprint"

// Report is the intermediate result of a verify or identify attempt. It is
// delivered before the operation completes.
type Report struct {
	Action ActionKind
	Match  *fprint.Print
	Print  *fprint.Print
	Err    error
}

type subscriber[F any] struct {
	id int
	fn F
}

type subscribers[F any] struct {
	next int
	subs []subscriber[F]
}

func (s *subscribers[F]) add(fn F) func() {
	id := s.next
	s.next++
	s.subs = append(s.subs, subscriber[F]{id: id, fn: fn})
	return func() {
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// each calls fn for a snapshot of the subscribers so handlers may
// unsubscribe while being called.
func (s *subscribers[F]) each(call func(F)) {
	snapshot := append([]subscriber[F](nil), s.subs...)
	for _, sub := range snapshot {
		call(sub.fn)
	}
}

type bus struct {
	notify  subscribers[func(Property)]
	removed subscribers[func()]
	report  subscribers[func(Report)]
}

// OnNotify subscribes to property changes. The returned func unsubscribes.
func (d *Device) OnNotify(fn func(Property)) func() {
	return d.bus.notify.add(fn)
}

// OnRemoved subscribes to the removed signal, which fires once after the
// device is unplugged and no operation is left running.
func (d *Device) OnRemoved(fn func()) func() {
	return d.bus.removed.add(fn)
}

// OnReport subscribes to verify and identify reports of every operation.
func (d *Device) OnReport(fn func(Report)) func() {
	return d.bus.report.add(fn)
}

func (d *Device) notify(p Property) {
	d.bus.notify.each(func(fn func(Property)) { fn(p) })
}
