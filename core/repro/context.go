// Package repro holds the execution context threaded through preprocessing,
// the encoder and the training loop: the device the run executes on and the
// seed every pseudo-random stream is derived from.
//
// There is no process-wide random state. Each consumer asks the context for a
// named stream, so adding a new consumer never shifts the numbers another one
// sees:
//
//	rc := repro.New(repro.CPU, 42)
//	train, val := preprocessing.TrainTestSplit(examples, 0.2, rc.Stream(repro.StreamSplit))
//	loader := dataset.NewLoader(train, 32, dataset.Shuffled(rc.Stream(repro.StreamShuffle)))
package repro

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Device names where numeric kernels run.
type Device string

// CPU is the only device the bundled kernels support.
const CPU Device = "cpu"

// Well-known stream names.
const (
	StreamSample  = "sample"  // row subsampling
	StreamSplit   = "split"   // train/validation/test partitioning
	StreamShuffle = "shuffle" // per-epoch batch order
	StreamDropout = "dropout" // dropout masks
	StreamInit    = "init"    // parameter initialisation
)

// ParseDevice validates a device name. An empty name selects CPU.
func ParseDevice(name string) (Device, error) {
	switch Device(name) {
	case "", CPU:
		return CPU, nil
	default:
		return "", errors.NewValidationError("device", "only cpu is supported", name)
	}
}

// Context is an explicit execution context. It is safe for concurrent use,
// but a single stream is not: hand each goroutine its own stream name.
type Context struct {
	mu      sync.Mutex
	device  Device
	seed    int64
	streams map[string]*rand.Rand
}

// New returns a context seeded with seed.
func New(device Device, seed int64) *Context {
	return &Context{
		device:  device,
		seed:    seed,
		streams: make(map[string]*rand.Rand),
	}
}

// Device returns the device of the context.
func (c *Context) Device() Device {
	return c.device
}

// Seed returns the active seed.
func (c *Context) Seed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seed
}

// Reseed discards every stream and makes seed the active seed. Streams
// requested afterwards start from the beginning of their sequence.
func (c *Context) Reseed(seed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seed = seed
	c.streams = make(map[string]*rand.Rand)
}

// Stream returns the generator for name, creating it on first use. Repeated
// calls return the same generator until the next Reseed.
func (c *Context) Stream(name string) *rand.Rand {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.streams[name]; ok {
		return r
	}
	r := rand.New(rand.NewPCG(uint64(c.seed), streamKey(name)))
	c.streams[name] = r
	return r
}

// Fork returns an independent context with the same device and a seed derived
// from this context's seed and name.
func (c *Context) Fork(name string) *Context {
	c.mu.Lock()
	seed := c.seed
	c.mu.Unlock()
	return New(c.device, seed^int64(streamKey(name)>>1))
}

func streamKey(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
