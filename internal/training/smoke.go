package training

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/pkg/api"
)

// DefaultImageSize replaces dynamic height and width dimensions
const DefaultImageSize = 640

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff"}

// SmokeTester runs one inference on a freshly exported graph. A failure only
// produces a warning.
type SmokeTester struct {
	logger  *slog.Logger
	runtime abstractions.InferenceRuntime
	size    int
}

func NewSmokeTester(logger *slog.Logger, runtime abstractions.InferenceRuntime, imageSize int) *SmokeTester {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	if imageSize <= 0 {
		imageSize = DefaultImageSize
	}
	return &SmokeTester{logger: logger, runtime: runtime, size: imageSize}
}

// Test reports whether the graph loaded and ran. The input is the first image of
// the validation split, or random pixels when there is none.
func (s *SmokeTester) Test(ctx context.Context, artifact *api.Artifact, ds *api.DatasetDescriptor) bool {
	if err := s.run(ctx, artifact, ds); err != nil {
		s.logger.Warn("The exported graph failed the smoke test", "path", artifact.Path, "error", err.Error())
		return false
	}
	return true
}

func (s *SmokeTester) run(ctx context.Context, artifact *api.Artifact, ds *api.DatasetDescriptor) error {
	// the smoke test never competes for the device
	resources := &api.ExecutionResources{Device: api.DeviceCPU, WorkerCount: 1}
	session, err := s.runtime.LoadGraph(ctx, artifact.Path, resources)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("Failed to close the inference session", "error", err.Error())
		}
	}()

	inputs := session.Inputs()
	if len(inputs) == 0 {
		return fmt.Errorf("the graph has no inputs")
	}
	shape, err := s.imageShape(inputs[0])
	if err != nil {
		return err
	}

	source := "random"
	var data []float32
	if sample := firstImage(ds); sample != "" {
		img, err := imaging.Open(sample)
		if err != nil {
			s.logger.Warn("Failed to read the sample image, using random pixels", "path", sample, "error", err.Error())
		} else {
			data = ImageToCHW(img, int(shape[3]), int(shape[2]))
			source = sample
		}
	}
	if data == nil {
		data = RandomCHW(int(shape[3]), int(shape[2]))
	}

	if err := session.Run(ctx, &abstractions.Tensor{Name: inputs[0].Name, Shape: shape, Data: data}); err != nil {
		return err
	}
	s.logger.Info("The exported graph passed the smoke test", "path", artifact.Path, "input", source, "shape", shape)
	return nil
}

// imageShape resolves an NCHW input with one image
func (s *SmokeTester) imageShape(info api.TensorInfo) ([]int64, error) {
	if len(info.Shape) != 4 {
		return nil, fmt.Errorf("expected an NCHW image input, %s has shape %v", info.Name, info.Shape)
	}
	shape := slices.Clone(info.Shape)
	defaults := []int64{1, 3, int64(s.size), int64(s.size)}
	for i, dim := range shape {
		if dim <= 0 {
			shape[i] = defaults[i]
		}
	}
	if shape[1] != 3 {
		return nil, fmt.Errorf("expected 3 channels, %s has %d", info.Name, shape[1])
	}
	// one image is enough
	shape[0] = 1
	return shape, nil
}

// ImageToCHW resizes the image and lays it out as normalized RGB planes
func ImageToCHW(img image.Image, width, height int) []float32 {
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	channelSize := width * height
	buffer := make([]float32, channelSize*3)
	for y := 0; y < height; y++ {
		offset := y * width
		for x := 0; x < width; x++ {
			i := offset + x
			r, g, b, _ := resized.At(x, y).RGBA()
			buffer[i] = float32(r>>8) / 255.0
			buffer[channelSize+i] = float32(g>>8) / 255.0
			buffer[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
	return buffer
}

// RandomCHW fills RGB planes with random 8 bit pixel values scaled to [0,1]
func RandomCHW(width, height int) []float32 {
	rng := rand.New(rand.NewPCG(42, 42))
	buffer := make([]float32, width*height*3)
	for i := range buffer {
		buffer[i] = float32(rng.IntN(256)) / 255.0
	}
	return buffer
}

func firstImage(ds *api.DatasetDescriptor) string {
	if ds == nil || ds.ValidationDir == "" {
		return ""
	}
	entries, err := os.ReadDir(ds.ValidationDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() && slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			return filepath.Join(ds.ValidationDir, entry.Name())
		}
	}
	return ""
}
