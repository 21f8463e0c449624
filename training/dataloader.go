package training

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/RobinDong/try-multimodal/model"
)

// Dataset is the sample source the loader draws from.
type Dataset interface {
	Len() int
	// Get returns a single model-ready sample.
	Get(index int) (model.Sample, error)
}

// FetchStatus classifies the outcome of one batch fetch.
type FetchStatus int

const (
	// FetchOK means Batch holds a complete batch.
	FetchOK FetchStatus = iota
	// FetchExhausted means the epoch ran out before a full batch could be
	// assembled.
	FetchExhausted
	// FetchTransient means the batch failed to load (decode error, missing
	// file). The failed samples are consumed, not retried.
	FetchTransient
)

func (fs FetchStatus) String() string {
	switch fs {
	case FetchOK:
		return "OK"
	case FetchExhausted:
		return "Exhausted"
	case FetchTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// FetchResult is the outcome of one batch fetch. Batch is set only when
// Status is FetchOK; Err is set only for FetchTransient.
type FetchResult struct {
	Status FetchStatus
	Batch  []model.Sample
	Err    error
}

// DataLoader assembles fixed-size batches, loading each batch's samples
// concurrently with a worker pool.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	numWorkers int
	shuffle    bool
	rng        *rand.Rand

	mu       sync.Mutex
	indices  []int
	position int
}

// NewDataLoader creates a loader over the dataset. Call Reset before the
// first fetch of each epoch.
func NewDataLoader(dataset Dataset, batchSize, numWorkers int, shuffle bool, seed int64) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		numWorkers: numWorkers,
		shuffle:    shuffle,
		rng:        rand.New(rand.NewSource(seed)),
		indices:    indices,
	}, nil
}

// BatchesPerEpoch returns the number of full batches in one epoch.
func (dl *DataLoader) BatchesPerEpoch() int {
	return dl.dataset.Len() / dl.batchSize
}

// Reset rewinds the loader and reshuffles when shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next fetches the next batch. A tail shorter than the batch size counts as
// exhausted so consumers always see full batches.
func (dl *DataLoader) Next() FetchResult {
	dl.mu.Lock()
	if dl.position+dl.batchSize > len(dl.indices) {
		dl.mu.Unlock()
		return FetchResult{Status: FetchExhausted}
	}
	batchIndices := dl.indices[dl.position : dl.position+dl.batchSize]
	dl.position += dl.batchSize
	dl.mu.Unlock()

	return dl.loadBatch(batchIndices)
}

func (dl *DataLoader) loadBatch(batchIndices []int) FetchResult {
	samples := make([]model.Sample, len(batchIndices))
	errs := make([]error, len(batchIndices))

	jobs := make(chan int, len(batchIndices))
	var wg sync.WaitGroup
	for w := 0; w < dl.numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				samples[i], errs[i] = dl.dataset.Get(batchIndices[i])
			}
		}()
	}
	for i := range batchIndices {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return FetchResult{
				Status: FetchTransient,
				Err:    fmt.Errorf("sample %d: %w", batchIndices[i], err),
			}
		}
	}
	return FetchResult{Status: FetchOK, Batch: samples}
}

// ResilientBatchSource wraps a DataLoader into an endless stream of full
// batches. Epoch exhaustion triggers a reshuffled restart and transient
// faults skip the failed batch instead of retrying it.
type ResilientBatchSource struct {
	loader *DataLoader
	logger *slog.Logger

	epoch   int
	skipped int
}

// maxConsecutiveFaults bounds how many broken batches in a row the source
// tolerates before giving up on the dataset.
const maxConsecutiveFaults = 100

func NewResilientBatchSource(loader *DataLoader, logger *slog.Logger) *ResilientBatchSource {
	if logger == nil {
		logger = slog.Default()
	}
	loader.Reset()
	return &ResilientBatchSource{loader: loader, logger: logger}
}

// NextBatch always returns a full batch, rolling over epochs and skipping
// faulted batches as needed.
func (s *ResilientBatchSource) NextBatch() ([]model.Sample, error) {
	faults := 0
	for {
		result := s.loader.Next()
		switch result.Status {
		case FetchOK:
			return result.Batch, nil
		case FetchExhausted:
			s.epoch++
			s.loader.Reset()
		case FetchTransient:
			faults++
			s.skipped++
			s.logger.Warn("skipping unreadable batch",
				"error", result.Err, "skipped_total", s.skipped)
			if faults >= maxConsecutiveFaults {
				return nil, fmt.Errorf("%d consecutive batch faults, last: %w", faults, result.Err)
			}
		}
	}
}

// Epoch returns how many times the underlying dataset has been exhausted.
func (s *ResilientBatchSource) Epoch() int {
	return s.epoch
}

// BatchesPerEpoch returns how many full batches one pass over the dataset
// yields.
func (s *ResilientBatchSource) BatchesPerEpoch() int {
	return s.loader.BatchesPerEpoch()
}

// SkippedBatches returns how many batches were dropped due to faults.
func (s *ResilientBatchSource) SkippedBatches() int {
	return s.skipped
}
