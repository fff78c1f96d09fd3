// Package smr provides safe memory reclamation for data read without locks.
//
// Readers bracket their accesses with Enter and Leave. Writers unlink an
// object, then hand a finalizer for it to Call. The finalizer runs on the
// Domain's coordinator goroutine once a grace period has elapsed, which is to
// say once every read section that might still see the object has ended:
//
//	type node struct {
//		smr.Entry
//		val int
//	}
//
//	var head smr.Pointer[node]
//
//	func Read(d *smr.Domain) int {
//		r := d.Enter()
//		defer r.Leave()
//		return head.Load(r).val
//	}
//
//	func Write(d *smr.Domain, val int) {
//		next := &node{val: val}
//		if old := head.Swap(next); old != nil {
//			d.Call(&old.Entry, func(arg any) { release(arg.(*node)) }, old)
//		}
//	}
//
// Call appends to a per-core Shard and never waits for the coordinator. The
// coordinator lets a short pause go by so that concurrent submissions share a
// round, then collects every shard in index order. It proves the grace period
// with the configured Quiescer before running the round's callbacks in the
// order they were collected. CallExpedite skips the pause. Barrier waits for
// everything submitted before it to have run.
package smr

import "github.com/zeebo/smr/internal/logging"

var logger = logging.New("SMR")
