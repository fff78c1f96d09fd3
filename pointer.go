package smr

import "sync/atomic"

// Pointer is a pointer that readers load inside a read section and writers
// replace, retiring the old value through a Domain. The zero value is a nil
// pointer ready to use.
type Pointer[T any] struct {
	p atomic.Pointer[T]
}

// Load returns the current value. r must be an open read section; the value
// stays valid until r is left.
func (p *Pointer[T]) Load(r Reader) *T {
	if r.shard == nil || r.shard.depth.Load() <= 0 {
		panic("smr: pointer load outside a read section")
	}
	return p.p.Load()
}

// Store publishes v. Writers must be serialized by the caller.
func (p *Pointer[T]) Store(v *T) { p.p.Store(v) }

// Swap publishes v and returns the value it replaced, which readers may
// still be using.
func (p *Pointer[T]) Swap(v *T) *T { return p.p.Swap(v) }

// CompareAndSwap publishes next if the current value is old.
func (p *Pointer[T]) CompareAndSwap(old, next *T) bool { return p.p.CompareAndSwap(old, next) }

// Retire queues fn(old) on d once no reader can still hold old. e is usually
// embedded in *old. fn receives old as its argument, the same as with Call,
// so retiring allocates nothing.
func (p *Pointer[T]) Retire(d *Domain, e *Entry, old *T, fn func(any)) {
	d.Call(e, fn, old)
}

// Replace swaps in v and retires the old value, if any.
func (p *Pointer[T]) Replace(d *Domain, v *T, entry func(*T) *Entry, fn func(any)) {
	if old := p.Swap(v); old != nil {
		p.Retire(d, entry(old), old, fn)
	}
}
