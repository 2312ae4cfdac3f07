// Package detector reports the compute hardware a run will use: the WebGPU
// adapter when the binary is built with -tags gpu and one is present, and the
// CPU worker pool otherwise. Style transfer itself always runs on the CPU;
// the report is logged so runs on different machines can be compared.
package detector

import (
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrNoGPU is returned by Detect when no adapter can be used.
var ErrNoGPU = errors.New("no GPU adapter available")

// Report is a portable summary of the compute resources.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	GOOS        string            `json:"goos"`
	GOARCH      string            `json:"goarch"`
	CPUWorkers  int               `json:"cpu_workers"`
	BudgetBytes uint64            `json:"budget_bytes"`
	GPU         *Adapter          `json:"gpu,omitempty"`
	GPUError    string            `json:"gpu_error,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// Adapter describes a WebGPU adapter.
type Adapter struct {
	Backend     string   `json:"backend"`
	AdapterType string   `json:"adapter_type"`
	VendorID    string   `json:"vendor_id_hex"`
	DeviceID    string   `json:"device_id_hex"`
	Name        string   `json:"name"`
	Driver      string   `json:"driver"`
	Limits      Limits   `json:"limits"`
	Features    []string `json:"features"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupSizeY          uint32 `json:"max_compute_workgroup_size_y"`
	MaxComputeWorkgroupSizeZ          uint32 `json:"max_compute_workgroup_size_z"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Recommendations is the work split for one convolution, see Report.Plan.
// The workgroup and tile fields are zero without an adapter.
type Recommendations struct {
	RowBand int `json:"row_band"`

	WorkgroupX uint32 `json:"workgroup_x"`
	WorkgroupY uint32 `json:"workgroup_y"`
	WorkgroupZ uint32 `json:"workgroup_z"`

	// Tiling hints for conv dispatch.
	TileX uint32 `json:"tile_x"`
	TileY uint32 `json:"tile_y"`

	// Soft budget in bytes for activations kept for the backward pass.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// budgetEnv overrides the default activation budget, in MiB.
const budgetEnv = "NST_BUDGET_MB"

// Probe never fails: a missing adapter is recorded in GPUError.
func Probe() Report {
	rep := Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		CPUWorkers:  runtime.GOMAXPROCS(0),
		BudgetBytes: budgetBytes(),
		Env:         pickEnv([]string{budgetEnv, "GOMAXPROCS"}),
	}
	gpu, err := Detect()
	if err != nil {
		rep.GPUError = err.Error()
	} else {
		rep.GPU = gpu
	}
	return rep
}

// JSON returns the indented JSON form of r.
func (r Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal report")
	}
	return string(b), nil
}

func budgetBytes() uint64 {
	budget := uint64(1024 * 1024 * 1024)
	if mbStr := os.Getenv(budgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	return budget
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
