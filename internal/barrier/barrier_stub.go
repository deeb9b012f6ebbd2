//go:build !linux || !cgo

package barrier

import "sync/atomic"

var fenceGate atomic.Uint64

// Sfence issues a store fence using an atomic RMW as a portable substitute
// for the x86 SFENCE instruction. Correct on every architecture Go's
// atomic package supports; slower than the cgo path, used on non-Linux
// builds and the driverkit backend where cgo asm isn't available.
func Sfence() {
	fenceGate.Add(1)
}

// Mfence issues a full memory fence using the same atomic RMW substitute.
func Mfence() {
	fenceGate.Add(1)
}
