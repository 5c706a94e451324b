package api

// SizeReport is printed by the optimization and quantization stages.
// ReductionPercent is exactly zero when the fallback copy was used.
type SizeReport struct {
	Stage            Stage   `json:"stage"`
	OriginalBytes    int64   `json:"original_bytes"`
	ResultBytes      int64   `json:"result_bytes"`
	ReductionPercent float64 `json:"reduction_percent"`
	FallbackUsed     bool    `json:"fallback_used"`
	Reason           string  `json:"reason,omitempty"`
}

// NewSizeReport computes (orig-new)/orig*100. An empty original gives 0%.
func NewSizeReport(stage Stage, originalBytes int64, resultBytes int64) SizeReport {
	report := SizeReport{
		Stage:         stage,
		OriginalBytes: originalBytes,
		ResultBytes:   resultBytes,
	}
	if originalBytes > 0 {
		report.ReductionPercent = float64(originalBytes-resultBytes) / float64(originalBytes) * 100
	}
	return report
}

// FallbackSizeReport is the report of a stage that copied its input unchanged.
func FallbackSizeReport(stage Stage, sizeBytes int64, reason string) SizeReport {
	return SizeReport{
		Stage:         stage,
		OriginalBytes: sizeBytes,
		ResultBytes:   sizeBytes,
		FallbackUsed:  true,
		Reason:        reason,
	}
}

// LatencyReport is the result of one benchmark. It is logged and printed but
// never written to the run store.
type LatencyReport struct {
	MeanMs      float64 `json:"mean_ms"`
	StdDevMs    float64 `json:"std_dev_ms"`
	FPS         float64 `json:"fps"`
	SampleCount int     `json:"sample_count"`
}
