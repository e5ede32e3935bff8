package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/AllenAnZifeng/Go-AI/executor/convert"
	"github.com/AllenAnZifeng/Go-AI/game"
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrClosed is returned by Evaluate after Close.
var ErrClosed = errors.New("inference: client closed")

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	// BoardSize fixes the input shape; every evaluated state must match it.
	BoardSize int
	// ValueOnly models expose a single "value" output.
	ValueOnly bool
	// CPUOnly skips the CUDA provider.
	CPUOnly bool
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// RuntimeStats reports batching counters.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

// OnnxClient implements Evaluator using ONNX Runtime with batching across
// concurrent callers.
type OnnxClient struct {
	mu           sync.RWMutex
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	done         chan struct{}
	closeOnce    sync.Once
	cfg          OnnxClientConfig

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string, boardSize int) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BoardSize: boardSize})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.BoardSize <= 0 {
		return nil, fmt.Errorf("onnx client: board size %d", cfg.BoardSize)
	}

	if err := initRuntime(); err != nil {
		return nil, err
	}

	session, err := newSession(modelPath, cfg)
	if err != nil {
		return nil, err
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

func initRuntime() error {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to init ort: %w", ortInitErr)
	}
	return nil
}

func newSession(modelPath string, cfg OnnxClientConfig) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputs := []string{"input"}
	outputs := []string{"policy", "value"}
	if cfg.ValueOnly {
		outputs = []string{"value"}
	}

	// Many self-play workers share the process.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !cfg.CPUOnly {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append CUDA provider")
			} else {
				log.Info().Msg("CUDA provider enabled")
			}
		} else {
			log.Debug().Err(err).Msg("CUDA options unavailable")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	return session, nil
}

func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// pip-installed CUDA libraries inside the project's .venv.
	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

// Reload swaps in a session for a new checkpoint. In-flight batches finish
// on the old session.
func (c *OnnxClient) Reload(modelPath string) error {
	session, err := newSession(modelPath, c.cfg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.session
	c.session = session
	c.mu.Unlock()
	log.Info().Str("model", modelPath).Msg("reloaded onnx session")
	return old.Destroy()
}

func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		err = c.session.Destroy()
	})
	return err
}

func (c *OnnxClient) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  c.batches.Load(),
		TotalItems:    c.items.Load(),
		TotalRunNanos: c.runNanos.Load(),
		LastBatchSize: c.last.Load(),
		QueueLen:      len(c.requestsChan),
	}
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = (float64(st.TotalRunNanos) / 1e6) / float64(st.TotalBatches)
	}
	return st
}

// Evaluate submits every state to the batch loop and waits for the results.
// Each request owns its input slice; the batch loop may still read it after
// Evaluate has returned early.
func (c *OnnxClient) Evaluate(states []*game.State) ([][]float32, []float32, error) {
	for _, s := range states {
		if s.Size != c.cfg.BoardSize {
			return nil, nil, fmt.Errorf("onnx client expects %dx%d boards, got %d", c.cfg.BoardSize, c.cfg.BoardSize, s.Size)
		}
	}

	inputSize := convert.InputSize(c.cfg.BoardSize)
	pending := make([]chan inferenceResponse, len(states))
	for i, s := range states {
		input := make([]float32, inputSize)
		convert.EncodeInto(input, s)
		pending[i] = make(chan inferenceResponse, 1)
		select {
		case c.requestsChan <- inferenceRequest{input: input, respChan: pending[i]}:
		case <-c.done:
			return nil, nil, ErrClosed
		}
	}

	var priors [][]float32
	if !c.cfg.ValueOnly {
		priors = make([][]float32, len(states))
	}
	values := make([]float32, len(states))
	for i, ch := range pending {
		var resp inferenceResponse
		select {
		case resp = <-ch:
		case <-c.done:
			return nil, nil, ErrClosed
		}
		if resp.err != nil {
			return nil, nil, resp.err
		}
		if priors != nil {
			priors[i] = resp.policy
		}
		values[i] = resp.value
	}
	return priors, values, nil
}

func (c *OnnxClient) batchLoop() {
	inputSize := convert.InputSize(c.cfg.BoardSize)
	batchInput := make([]float32, 0, c.cfg.BatchSize*inputSize)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		c.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case <-c.done:
			c.failBatch(requests, ErrClosed)
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	start := time.Now()
	size := int64(c.cfg.BoardSize)
	n := int64(len(requests))
	actions := int64(game.ActionSize(c.cfg.BoardSize))

	inputTensor, err := ort.NewTensor(ort.NewShape(n, convert.Channels, size, size), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 0, 2)
	var policyTensor *ort.Tensor[float32]
	if !c.cfg.ValueOnly {
		policyTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(n, actions))
		if err != nil {
			c.failBatch(requests, err)
			return
		}
		defer policyTensor.Destroy()
		outputs = append(outputs, policyTensor)
	}

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 1))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()
	outputs = append(outputs, valueTensor)

	c.mu.RLock()
	err = c.session.Run([]ort.Value{inputTensor}, outputs)
	c.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Int64("batch", n).Msg("onnx batch failed")
		c.failBatch(requests, err)
		return
	}

	valueData := valueTensor.GetData()
	if int64(len(valueData)) != n {
		c.failBatch(requests, ErrMalformedOutput)
		return
	}
	var policyData []float32
	if policyTensor != nil {
		policyData = policyTensor.GetData()
		if int64(len(policyData)) != n*actions {
			c.failBatch(requests, ErrMalformedOutput)
			return
		}
	}

	for i, req := range requests {
		v := valueData[i]
		if math32.IsNaN(v) {
			req.respChan <- inferenceResponse{err: ErrMalformedOutput}
			continue
		}
		resp := inferenceResponse{value: math32.Max(-1, math32.Min(1, v))}
		if policyData != nil {
			resp.policy = policyRow(policyData, i, int(actions))
		}
		req.respChan <- resp
	}

	c.batches.Add(1)
	c.items.Add(n)
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.last.Store(n)
}

// policyRow copies row i of a batched logits tensor and softmaxes it.
func policyRow(data []float32, i, actions int) []float32 {
	row := make([]float32, actions)
	copy(row, data[i*actions:(i+1)*actions])
	return Softmax(row)
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
