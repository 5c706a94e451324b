package ultralytics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/model-forge/model-forge/pkg/api"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// ParseValidationSummary reads the "all" row of the validation table:
//
//	Class     Images  Instances      Box(P          R      mAP50  mAP50-95)
//	  all        100        250      0.812      0.745      0.801      0.562
//
// The last such row wins, earlier ones come from the per epoch validation.
func ParseValidationSummary(output string) (*api.PerformanceMetrics, error) {
	var row []string
	for _, line := range strings.Split(ansiEscape.ReplaceAllString(output, ""), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 7 && fields[0] == "all" {
			row = fields
		}
	}
	if row == nil {
		return nil, fmt.Errorf("no summary row in the validation output")
	}

	values := make([]float64, 4)
	for i, field := range row[len(row)-4:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid metric %q in the validation summary: %w", field, err)
		}
		values[i] = v
	}
	return &api.PerformanceMetrics{
		Precision: values[0],
		Recall:    values[1],
		MAP50:     values[2],
		MAP50_95:  values[3],
	}, nil
}
