package epoch

// Token pins the generation it was acquired in. Advance can move past the
// generation, but a Wait on it will not return until the Token is released.
type Token struct {
	ctr  *counter
	gen  uint64
	slot int
}

// Release gives up the Token. It must be called exactly once.
func (t Token) Release() { t.ctr.letGo() }

// Gen returns the generation the Token was acquired in.
func (t Token) Gen() uint64 { return t.gen }

// Slot returns the slot the Token was counted in.
func (t Token) Slot() int { return t.slot }
