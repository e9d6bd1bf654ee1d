package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"mypictures/internal/config"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("embedding service closed")

// EmbeddingService runs the CLIP vision and text towers. It is built once
// per process and shared; inference calls are serialized.
type EmbeddingService struct {
	mu sync.Mutex

	dim       int
	imageSize int
	ctxLen    int

	vision      *ort.AdvancedSession
	pixelValues *ort.Tensor[float32]
	imageEmbeds *ort.Tensor[float32]

	text          *ort.AdvancedSession
	tokenizer     *Tokenizer
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	textEmbeds    *ort.Tensor[float32]

	closed bool
	once   sync.Once
}

func NewEmbeddingService(cfg config.ModelConfig) (*EmbeddingService, error) {
	ort.SetSharedLibraryPath(cfg.ORTLibrary)

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx: %w", err)
	}

	e := &EmbeddingService{
		dim:       cfg.Dimension,
		imageSize: cfg.ImageSize,
		ctxLen:    cfg.ContextLength,
	}
	if err := e.initVision(cfg); err != nil {
		e.destroy()
		return nil, err
	}
	if err := e.initText(cfg); err != nil {
		e.destroy()
		return nil, err
	}

	return e, nil
}

func (e *EmbeddingService) initVision(cfg config.ModelConfig) error {
	s := int64(cfg.ImageSize)

	var err error
	e.pixelValues, err = ort.NewTensor(ort.NewShape(1, 3, s, s), make([]float32, 3*s*s))
	if err != nil {
		return fmt.Errorf("create pixel tensor: %w", err)
	}

	e.imageEmbeds, err = ort.NewTensor(ort.NewShape(1, int64(cfg.Dimension)), make([]float32, cfg.Dimension))
	if err != nil {
		return fmt.Errorf("create image output tensor: %w", err)
	}

	e.vision, err = ort.NewAdvancedSession(
		cfg.VisionPath,
		[]string{cfg.VisionInput},
		[]string{cfg.VisionOutput},
		[]ort.ArbitraryTensor{e.pixelValues},
		[]ort.ArbitraryTensor{e.imageEmbeds},
		nil,
	)
	if err != nil {
		return fmt.Errorf("create vision session: %w", err)
	}
	return nil
}

func (e *EmbeddingService) initText(cfg config.ModelConfig) error {
	l := int64(cfg.ContextLength)

	var err error
	e.inputIDs, err = ort.NewTensor(ort.NewShape(1, l), make([]int64, l))
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}

	e.attentionMask, err = ort.NewTensor(ort.NewShape(1, l), make([]int64, l))
	if err != nil {
		return fmt.Errorf("create attention tensor: %w", err)
	}

	e.textEmbeds, err = ort.NewTensor(ort.NewShape(1, int64(cfg.Dimension)), make([]float32, cfg.Dimension))
	if err != nil {
		return fmt.Errorf("create text output tensor: %w", err)
	}

	e.text, err = ort.NewAdvancedSession(
		cfg.TextPath,
		[]string{"input_ids", "attention_mask"},
		[]string{cfg.TextOutput},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask},
		[]ort.ArbitraryTensor{e.textEmbeds},
		nil,
	)
	if err != nil {
		return fmt.Errorf("create text session: %w", err)
	}

	e.tokenizer, err = NewTokenizer(cfg.TokenizerPath)
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}
	return nil
}

// Dimension is the width of every vector this service returns.
func (e *EmbeddingService) Dimension() int { return e.dim }

// EmbedImage returns the L2-normalized image embedding.
func (e *EmbeddingService) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	pixels := Preprocess(img, e.imageSize)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copy(e.pixelValues.GetData(), pixels)

	if err := e.vision.Run(); err != nil {
		return nil, fmt.Errorf("vision inference: %w", err)
	}

	return copyNormalized(e.imageEmbeds.GetData())
}

// EmbedText returns the L2-normalized text embedding.
func (e *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask, err := e.tokenizer.Encode(text, e.ctxLen)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	copy(e.inputIDs.GetData(), inputIDs)
	copy(e.attentionMask.GetData(), attentionMask)

	if err := e.text.Run(); err != nil {
		return nil, fmt.Errorf("text inference: %w", err)
	}

	return copyNormalized(e.textEmbeds.GetData())
}

// copyNormalized detaches the output from the reused tensor buffer.
func copyNormalized(out []float32) ([]float32, error) {
	v := make([]float32, len(out))
	copy(v, out)
	if err := normalize(v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalize(v []float32) error {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return errors.New("degenerate embedding")
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return nil
}

func (e *EmbeddingService) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.closed = true
		e.destroy()
	})
}

func (e *EmbeddingService) destroy() {
	if e.vision != nil {
		e.vision.Destroy()
	}
	if e.text != nil {
		e.text.Destroy()
	}
	if e.pixelValues != nil {
		e.pixelValues.Destroy()
	}
	if e.imageEmbeds != nil {
		e.imageEmbeds.Destroy()
	}
	if e.textEmbeds != nil {
		e.textEmbeds.Destroy()
	}
	if e.inputIDs != nil {
		e.inputIDs.Destroy()
	}
	if e.attentionMask != nil {
		e.attentionMask.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	ort.DestroyEnvironment()
}
