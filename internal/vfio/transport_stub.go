//go:build !linux

package vfio

import (
	"context"
	"fmt"

	"github.com/OpenMPDK/libvfn/internal/interfaces"
)

// driverkitTransport is the macOS placeholder transport. The real
// driverkit-backed DMA path (DriverKit's IOUserClient + its own IOVA
// mapping calls) is out of scope; this stub exists so the rest of the
// library builds and tests on non-Linux hosts against the same
// interfaces.Transport contract the Linux transports satisfy.
type driverkitTransport struct{}

func newLegacyTransport(interfaces.Logger) *driverkitTransport {
	return &driverkitTransport{}
}

func (t *driverkitTransport) Open(context.Context, string) error {
	return fmt.Errorf("vfio: driverkit transport not implemented")
}

func (t *driverkitTransport) MapDMA(uint64, uintptr, uint64) error {
	return fmt.Errorf("vfio: driverkit transport not implemented")
}

func (t *driverkitTransport) UnmapDMA(uint64, uint64) error {
	return fmt.Errorf("vfio: driverkit transport not implemented")
}

func (t *driverkitTransport) PermittedRanges() ([]interfaces.IovaRange, error) {
	return nil, fmt.Errorf("vfio: driverkit transport not implemented")
}

func (t *driverkitTransport) RegisterIRQ(int, int) error {
	return fmt.Errorf("vfio: driverkit transport not implemented")
}

func (t *driverkitTransport) MMIO() []byte { return nil }

func (t *driverkitTransport) Close() error { return nil }

var _ interfaces.Transport = (*driverkitTransport)(nil)
