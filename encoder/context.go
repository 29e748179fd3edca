package encoder

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/haspeede/core/model"
	"github.com/YuminosukeSato/haspeede/core/parallel"
	"github.com/YuminosukeSato/haspeede/nn"
	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// Config sizes a ContextEncoder.
type Config struct {
	Name       string  `yaml:"name"`
	VocabSize  int     `yaml:"vocab_size"`
	HiddenSize int     `yaml:"hidden_size"`
	MaxLen     int     `yaml:"max_len"`
	InitStd    float64 `yaml:"init_std"`
}

// Validate checks the sizes.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return errors.NewValidationError("vocab_size", "must be positive", c.VocabSize)
	case c.HiddenSize <= 0:
		return errors.NewValidationError("hidden_size", "must be positive", c.HiddenSize)
	case c.MaxLen <= 0:
		return errors.NewValidationError("max_len", "must be positive", c.MaxLen)
	case c.InitStd < 0:
		return errors.NewValidationError("init_std", "must not be negative", c.InitStd)
	}
	return nil
}

// parallelThreshold is the batch size below which Forward stays on one
// goroutine.
const parallelThreshold = 8

// ContextEncoder embeds tokens and positions, mixes every position with the
// masked mean of the sequence and pools that mean through a tanh projection:
//
//	h_t    = E[id_t] + P[t]
//	c      = Σ m_t·h_t / Σ m_t
//	o_t    = tanh(h_t + W_c·c)
//	pooled = tanh(W_p·c + b_p)
type ContextEncoder struct {
	cfg Config

	tokens    *nn.Parameter // vocab×hidden
	positions *nn.Parameter // maxLen×hidden
	mix       *nn.Parameter // hidden×hidden
	pooler    *nn.Linear

	last *forwardCache
}

type forwardCache struct {
	in     model.Inputs
	h      *mat.Dense // (n·L)×H
	ctx    *mat.Dense // n×H
	out    *mat.Dense // (n·L)×H
	pooled *mat.Dense // n×H
	counts []float64
}

// NewContextEncoder initializes embeddings with N(0, InitStd²) (0.02 when
// unset) and the projections uniformly.
func NewContextEncoder(cfg Config, rng *rand.Rand) (*ContextEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InitStd == 0 {
		cfg.InitStd = 0.02
	}
	e := &ContextEncoder{
		cfg:       cfg,
		tokens:    nn.NewParameter("encoder.embeddings.tokens", cfg.VocabSize, cfg.HiddenSize),
		positions: nn.NewParameter("encoder.embeddings.positions", cfg.MaxLen, cfg.HiddenSize),
		mix:       nn.NewParameter("encoder.context.weight", cfg.HiddenSize, cfg.HiddenSize),
		pooler:    nn.NewLinear("encoder.pooler", cfg.HiddenSize, cfg.HiddenSize, rng),
	}
	nn.InitNormal(e.tokens, cfg.InitStd, rng)
	nn.InitNormal(e.positions, cfg.InitStd, rng)
	nn.InitUniform(e.mix, 1/math.Sqrt(float64(cfg.HiddenSize)), rng)
	return e, nil
}

// Config returns the configuration the encoder was built with.
func (e *ContextEncoder) Config() Config {
	return e.cfg
}

// HiddenSize is the embedding width.
func (e *ContextEncoder) HiddenSize() int {
	return e.cfg.HiddenSize
}

// Parameters returns every trainable tensor.
func (e *ContextEncoder) Parameters() []*nn.Parameter {
	return append([]*nn.Parameter{e.tokens, e.positions, e.mix}, e.pooler.Parameters()...)
}

func (e *ContextEncoder) check(in model.Inputs) error {
	n, L := in.Len(), in.SeqLen()
	if n == 0 {
		return errors.Wrap(errors.ErrEmptyData, "ContextEncoder.Forward")
	}
	if L > e.cfg.MaxLen {
		return errors.NewDimensionError("ContextEncoder.Forward", e.cfg.MaxLen, L, 1)
	}
	if len(in.Mask) != n {
		return errors.NewDimensionError("ContextEncoder.Forward", n, len(in.Mask), 0)
	}
	for i := range in.IDs {
		if len(in.IDs[i]) != L || len(in.Mask[i]) != L {
			return errors.NewDimensionError("ContextEncoder.Forward", L, len(in.IDs[i]), 1)
		}
		for _, id := range in.IDs[i] {
			if id < 0 || id >= e.cfg.VocabSize {
				return errors.NewValueError("ContextEncoder.Forward", "token id out of vocabulary range")
			}
		}
	}
	return nil
}

// Forward embeds a batch. Sequences are processed in parallel.
func (e *ContextEncoder) Forward(in model.Inputs) (*Output, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	n, L, H := in.Len(), in.SeqLen(), e.cfg.HiddenSize

	c := &forwardCache{
		in:     in,
		h:      mat.NewDense(n*L, H, nil),
		ctx:    mat.NewDense(n, H, nil),
		out:    mat.NewDense(n*L, H, nil),
		counts: make([]float64, n),
	}

	// Embeddings and the masked mean context, one sequence per row block.
	err := parallel.Rows(n, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			ctx := c.ctx.RawRowView(i)
			for t := 0; t < L; t++ {
				h := c.h.RawRowView(i*L + t)
				tok := e.tokens.Value.RawRowView(in.IDs[i][t])
				pos := e.positions.Value.RawRowView(t)
				for k := range h {
					h[k] = tok[k] + pos[k]
				}
				if in.Mask[i][t] != 0 {
					c.counts[i]++
					for k := range ctx {
						ctx[k] += h[k]
					}
				}
			}
			if c.counts[i] > 0 {
				for k := range ctx {
					ctx[k] /= c.counts[i]
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	var mixed mat.Dense
	mixed.Mul(c.ctx, e.mix.Value.T())

	err = parallel.Rows(n, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			u := mixed.RawRowView(i)
			for t := 0; t < L; t++ {
				h := c.h.RawRowView(i*L + t)
				o := c.out.RawRowView(i*L + t)
				for k := range o {
					o[k] = math.Tanh(h[k] + u[k])
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	pooled, err := e.pooler.Forward(c.ctx)
	if err != nil {
		return nil, err
	}
	pooled.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, pooled)
	c.pooled = pooled

	e.last = c
	return &Output{Tokens: c.out, Pooled: pooled, SeqLen: L}, nil
}

// Backward accumulates gradients for the last Forward.
func (e *ContextEncoder) Backward(dTokens, dPooled *mat.Dense) error {
	c := e.last
	if c == nil {
		return errors.NewModelError("ContextEncoder.Backward", "no forward pass to differentiate", nil)
	}
	n, L, H := c.in.Len(), c.in.SeqLen(), e.cfg.HiddenSize

	dCtx := mat.NewDense(n, H, nil)
	dH := mat.NewDense(n*L, H, nil)

	if dPooled != nil {
		if r, _ := dPooled.Dims(); r != n {
			return errors.NewDimensionError("ContextEncoder.Backward", n, r, 0)
		}
		pre := mat.NewDense(n, H, nil)
		pre.Apply(func(i, j int, v float64) float64 {
			p := c.pooled.At(i, j)
			return v * (1 - p*p)
		}, dPooled)
		dx, err := e.pooler.Backward(c.ctx, pre)
		if err != nil {
			return err
		}
		dCtx.Add(dCtx, dx)
	}

	if dTokens != nil {
		if r, _ := dTokens.Dims(); r != n*L {
			return errors.NewDimensionError("ContextEncoder.Backward", n*L, r, 0)
		}
		dMixed := mat.NewDense(n, H, nil)
		for i := 0; i < n; i++ {
			du := dMixed.RawRowView(i)
			for t := 0; t < L; t++ {
				row := i*L + t
				g := dTokens.RawRowView(row)
				o := c.out.RawRowView(row)
				dh := dH.RawRowView(row)
				for k := range dh {
					pre := g[k] * (1 - o[k]*o[k])
					dh[k] = pre
					du[k] += pre
				}
			}
		}
		var dW mat.Dense
		dW.Mul(dMixed.T(), c.ctx)
		e.mix.Grad.Add(e.mix.Grad, &dW)

		var dc mat.Dense
		dc.Mul(dMixed, e.mix.Value)
		dCtx.Add(dCtx, &dc)
	}

	// The mean spreads dCtx evenly over the unmasked positions.
	for i := 0; i < n; i++ {
		if c.counts[i] == 0 {
			continue
		}
		dc := dCtx.RawRowView(i)
		for t := 0; t < L; t++ {
			if c.in.Mask[i][t] == 0 {
				continue
			}
			dh := dH.RawRowView(i*L + t)
			for k := range dh {
				dh[k] += dc[k] / c.counts[i]
			}
		}
	}

	for i := 0; i < n; i++ {
		for t := 0; t < L; t++ {
			dh := dH.RawRowView(i*L + t)
			tg := e.tokens.Grad.RawRowView(c.in.IDs[i][t])
			pg := e.positions.Grad.RawRowView(t)
			for k, v := range dh {
				tg[k] += v
				pg[k] += v
			}
		}
	}
	return nil
}
