package smr

// Quiescer proves grace periods. Synchronize must not return until every
// read section that was open when it was called has ended.
type Quiescer interface {
	Synchronize()
}

// QuiescerFunc adapts a function to a Quiescer.
type QuiescerFunc func()

// Synchronize calls f.
func (f QuiescerFunc) Synchronize() { f() }

// idleQuiescer waits for every shard to pass through an idle point, the way a
// kernel would pin itself onto each CPU in turn.
type idleQuiescer struct{ d *Domain }

func (q idleQuiescer) Synchronize() {
	d := q.d
	marks := make([]uint64, len(d.shards))
	for i := range d.shards {
		marks[i] = d.shards[i].idles.Load()
	}

	d.qwaiters.Add(1)
	defer d.qwaiters.Add(-1)

	d.qmu.Lock()
	defer d.qmu.Unlock()
	for i := range d.shards {
		for !d.shards[i].quiescedSince(marks[i]) {
			d.qcond.Wait()
		}
	}
}
