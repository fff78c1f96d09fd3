package smr

// Entry is a deferred callback. Callers embed it in the structure the
// callback finalizes, so submitting never allocates. An Entry is submitted at
// most once and is not reused.
type Entry struct {
	next *Entry
	fn   func(any)
	arg  any
}

// Pending reports whether the Entry has been submitted.
func (e *Entry) Pending() bool { return e.fn != nil }

func (e *Entry) call() { e.fn(e.arg) }

// entryList is an intrusive FIFO of entries.
type entryList struct {
	head *Entry
	tail *Entry
	n    int
}

func (l *entryList) push(e *Entry) {
	if l.tail == nil {
		l.head = e
	} else {
		l.tail.next = e
	}
	l.tail = e
	l.n++
}

// concat moves every entry of o to the end of l, leaving o empty.
func (l *entryList) concat(o *entryList) {
	if o.head == nil {
		return
	}
	if l.tail == nil {
		l.head = o.head
	} else {
		l.tail.next = o.head
	}
	l.tail = o.tail
	l.n += o.n
	*o = entryList{}
}

func (l *entryList) pop() *Entry {
	e := l.head
	if e == nil {
		return nil
	}
	l.head = e.next
	if l.head == nil {
		l.tail = nil
	}
	e.next = nil
	l.n--
	return e
}

func (l *entryList) len() int { return l.n }
