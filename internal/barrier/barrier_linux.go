//go:build linux && cgo

package barrier

/*
#include <stdint.h>

// x86-64 store fence: all prior stores are globally visible before any
// subsequent store. Needed before a doorbell MMIO write so the controller
// never observes a partially-written submission entry.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence: all prior loads and stores complete before any
// subsequent one. Needed after observing a completion entry's phase bit
// flip, before reading the rest of the entry.
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE).
func Sfence() {
	C.sfence_impl()
}

// Mfence issues a full memory fence (x86 MFENCE).
func Mfence() {
	C.mfence_impl()
}
