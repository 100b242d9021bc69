// Package combinatorics computes the round-completion counts used by the
// Lieutenant round engine.
package combinatorics

// Expected returns E(n, round): the number of distinct chain-prefixes any
// honest Lieutenant should observe within the given round alone (not
// summed over earlier rounds), for n total processes.
//
//	E(n, 0) = 1
//	E(n, r) = (n - 1 - r) * E(n, r-1)
//
// In round r, each of the E(n, r-1) chains from round r-1 gets extended
// by one of the (n-1-r) remaining ids not already in the chain or equal
// to the receiver.
func Expected(n int, round uint32) int {
	e := 1
	for r := uint32(1); r <= round; r++ {
		e *= n - 1 - int(r)
	}
	return e
}
