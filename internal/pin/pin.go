// Package pin exposes the runtime's processor pinning, which is the closest
// thing a goroutine has to "the current core".
package pin

import _ "unsafe"

//go:linkname procPin runtime.procPin
//go:nosplit
func procPin() int

//go:linkname procUnpin runtime.procUnpin
//go:nosplit
func procUnpin()

// Proc returns the id of the P the caller was running on. The goroutine may
// migrate as soon as Proc returns, so the result is only a locality hint.
func Proc() int {
	p := procPin()
	procUnpin()
	return p
}
