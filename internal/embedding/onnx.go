//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/tanya/pkg/utils"
)

// ONNXOptions describes a sentence-embedding model exported to ONNX.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// OutputName is the pooled output tensor, "output" when empty.
	OutputName string
}

// onnxIO holds the tensors bound to a session. They are reused by every run.
type onnxIO struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newONNXIO(maxTokens, dimensions int) (*onnxIO, error) {
	io := &onnxIO{}
	inShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if io.inputIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if io.attentionMask, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if io.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if io.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		io.destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return io, nil
}

func (io *onnxIO) destroy() {
	if io.inputIDs != nil {
		_ = io.inputIDs.Destroy()
	}
	if io.attentionMask != nil {
		_ = io.attentionMask.Destroy()
	}
	if io.tokenTypeIDs != nil {
		_ = io.tokenTypeIDs.Destroy()
	}
	if io.output != nil {
		_ = io.output.Destroy()
	}
	*io = onnxIO{}
}

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. Requires CGO and the
// onnxruntime shared library. Runs share one set of tensors and are serialized.
type ONNXEmbedder struct {
	opts      ONNXOptions
	tokenizer Tokenizer

	mu      sync.Mutex
	session *ort.AdvancedSession
	io      *onnxIO
}

// NewONNXEmbedder loads the model described by opts.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("embedding.model_path is required for the onnx provider")
	}
	if opts.Dimensions <= 0 {
		return nil, errors.New("embedding.dimensions must be positive for the onnx provider")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	io, err := newONNXIO(opts.MaxTokens, opts.Dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{io.inputIDs, io.attentionMask, io.tokenTypeIDs},
		[]ort.ArbitraryTensor{io.output},
		nil,
	)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", opts.ModelPath, err)
	}
	return &ONNXEmbedder{
		opts:      opts,
		tokenizer: &SimpleTokenizer{},
		session:   session,
		io:        io,
	}, nil
}

// Embed returns the L2-normalised embedding of text. Text beyond MaxTokens is ignored.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}
	return e.runLocked(text)
}

func (e *ONNXEmbedder) runLocked(text string) ([]float32, error) {
	tok := e.tokenizer.Tokenize(text, e.opts.MaxTokens)
	copy(e.io.inputIDs.GetData(), tok.InputIDs)
	copy(e.io.attentionMask.GetData(), tok.AttentionMask)
	copy(e.io.tokenTypeIDs.GetData(), tok.TokenTypeIDs)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	vec := append([]float32(nil), e.io.output.GetData()[:e.opts.Dimensions]...)
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts in order under one lock, checking ctx between texts.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.runLocked(text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close destroys the session and its tensors. Later calls fail.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
