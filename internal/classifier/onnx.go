package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// DefaultClasses is the output order of the exported trade-side models.
var DefaultClasses = []Label{Sell, Stay, Buy}

var ortInit struct {
	once sync.Once
	err  error
}

// InitializeRuntime loads the onnxruntime shared library once per process.
// An empty libPath picks the platform default.
func InitializeRuntime(libPath string) error {
	ortInit.once.Do(func() {
		if libPath == "" {
			switch runtime.GOOS {
			case "windows":
				libPath = "onnxruntime.dll"
			case "darwin":
				libPath = "libonnxruntime.dylib"
			default:
				libPath = "/usr/lib/libonnxruntime.so"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

type ONNXConfig struct {
	ID         string
	ModelPath  string
	Features   []string
	Classes    []Label
	InputName  string
	OutputName string
}

// ONNXClassifier runs a single-row inference session. Runs are serialised
// because the session reuses its input and output tensors.
type ONNXClassifier struct {
	mu       sync.Mutex
	id       string
	features []string
	classes  []Label
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	logger   *slog.Logger
}

func NewONNX(cfg ONNXConfig, logger *slog.Logger) (*ONNXClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Features) == 0 {
		return nil, fmt.Errorf("%w: no features configured", ErrUnavailable)
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = DefaultClasses
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(cfg.Features))), make([]float32, len(cfg.Features)))
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %v", ErrUnavailable, err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(cfg.Classes))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("%w: create output tensor: %v", ErrUnavailable, err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("%w: create session for %s: %v", ErrUnavailable, cfg.ModelPath, err)
	}

	logger.Info("classifier loaded", "classifier_id", cfg.ID, "model", cfg.ModelPath, "features", cfg.Features)
	return &ONNXClassifier{
		id:       cfg.ID,
		features: cfg.Features,
		classes:  cfg.Classes,
		session:  session,
		input:    input,
		output:   output,
		logger:   logger,
	}, nil
}

func (c *ONNXClassifier) Predict(ctx context.Context, features map[string]float64, opts PredictOptions) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !opts.FormatData {
		return Prediction{}, fmt.Errorf("%w: raw input rows are not supported", ErrUnavailable)
	}
	row, err := Vectorize(features, c.features)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	copy(c.input.GetData(), row)
	if err := c.session.Run(); err != nil {
		c.mu.Unlock()
		return Prediction{}, fmt.Errorf("%w: inference failed: %v", ErrUnavailable, err)
	}
	scores := append([]float32(nil), c.output.GetData()...)
	c.mu.Unlock()

	if !opts.UnwrapPrediction {
		return Prediction{Scores: scores}, nil
	}
	prediction, err := Unwrap(scores, c.classes)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.logger.Debug("classifier prediction", "classifier_id", c.id, "label", prediction.Label, "confidence", prediction.Confidence)
	return prediction, nil
}

func (c *ONNXClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
	}
	if c.input != nil {
		c.input.Destroy()
	}
	if c.output != nil {
		c.output.Destroy()
	}
}
