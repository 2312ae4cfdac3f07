//go:build gpu

package detector

import (
	"fmt"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// Detect asks for the high-performance adapter and opens a device on it, so
// an adapter is only reported when it can actually run compute work.
func Detect() (*Adapter, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, errors.Wrap(ErrNoGPU, "wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrNoGPU, "request adapter: %v", err)
	}
	if adapter == nil {
		return nil, ErrNoGPU
	}
	defer adapter.Release()

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{})
	if err != nil {
		return nil, errors.Wrapf(ErrNoGPU, "request device: %v", err)
	}
	device.Release()

	info := adapter.GetInfo()
	a := &Adapter{
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      limitsOf(adapter.GetLimits()),
	}
	for _, f := range adapter.EnumerateFeatures() {
		a.Features = append(a.Features, f.String())
	}
	return a, nil
}

// limitsOf keeps the limits Report.Plan sizes conv dispatches with.
func limitsOf(l wgpu.SupportedLimits) Limits {
	return Limits{
		MaxComputeInvocationsPerWorkgroup: l.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupSizeY:          l.Limits.MaxComputeWorkgroupSizeY,
		MaxComputeWorkgroupSizeZ:          l.Limits.MaxComputeWorkgroupSizeZ,
		MaxComputeWorkgroupsPerDimension:  l.Limits.MaxComputeWorkgroupsPerDimension,
		MaxComputeWorkgroupStorageSize:    l.Limits.MaxComputeWorkgroupStorageSize,
		MaxStorageBufferBindingSize:       l.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.Limits.MaxBufferSize,
	}
}
