package detector

import "github.com/openfluke/nst/nn"

// Plan recommends how to split a 3x3 convolution with the given filter count
// over an h x w image. RowBand is the band of output rows each of the
// report's CPU workers takes in the nn kernels. With an adapter, a dispatch
// tile covers one such band and a workgroup computes one output pixel across
// as many filters as the limits allow.
func (r Report) Plan(h, w, filters int) Recommendations {
	rec := Recommendations{
		RowBand:     nn.RowBand(h, r.CPUWorkers),
		BudgetBytes: r.BudgetBytes,
	}
	if r.GPU == nil || rec.RowBand == 0 || w <= 0 {
		return rec
	}
	l := r.GPU.Limits
	rec.WorkgroupX = workgroupFor(l, filters)
	rec.WorkgroupY, rec.WorkgroupZ = 1, 1
	rec.TileX = min(uint32(w), l.MaxComputeWorkgroupsPerDimension)
	rec.TileY = min(uint32(rec.RowBand), l.MaxComputeWorkgroupsPerDimension)
	return rec
}

// workgroupFor returns the largest power of two, at most filters, that the
// adapter accepts along X.
func workgroupFor(l Limits, filters int) uint32 {
	limit := min(l.MaxComputeWorkgroupSizeX, l.MaxComputeInvocationsPerWorkgroup)
	wg := uint32(1)
	for wg*2 <= limit && int(wg*2) <= filters {
		wg *= 2
	}
	return wg
}
