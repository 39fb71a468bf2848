package likelihood

import (
	"fmt"
	"math"

	"sigfit/domain/core"
	"sigfit/domain/model"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kind classifies a model parameter.
type Kind int

const (
	KindNormFactor Kind = iota
	KindOverallSys
	KindLumi
	KindStatGamma
)

func (k Kind) String() string {
	switch k {
	case KindNormFactor:
		return "norm_factor"
	case KindOverallSys:
		return "overall_sys"
	case KindLumi:
		return "lumi"
	case KindStatGamma:
		return "stat_gamma"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Parameter is one fit parameter with its starting value and hard limits.
type Parameter struct {
	Name     string
	Kind     Kind
	Init     float64
	Low      float64
	High     float64
	Constant bool
}

// LumiName is the luminosity parameter name.
const LumiName = "Lumi"

// Nuisance parameters are bounded at this many standard deviations.
const nuisanceRange = 5.0

// Floor for expected counts inside the Poisson term.
const minExpected = 1e-10

// constraint is the negative log of an auxiliary pdf, offset to zero at its mode.
type constraint struct {
	param int
	dist  interface{ LogProb(float64) float64 }
	mode  float64
}

func (c constraint) nll(x float64) float64 {
	return c.dist.LogProb(c.mode) - c.dist.LogProb(x)
}

type sysTerm struct {
	param int
	resp  response
}

type compiledSample struct {
	name    string
	offset  int
	nominal []float64
	norms   []int
	sys     []sysTerm
	lumi    bool
	// gammas[i] is the parameter index of bin i's stat gamma, or -1.
	gammas []int
}

// Model is a compiled, immutable binned likelihood. Bins of all channels are
// concatenated in channel order.
type Model struct {
	poi         int
	params      []Parameter
	index       map[string]int
	samples     []compiledSample
	data        []float64
	constraints []constraint
	lumi        int
}

// Compile turns a measurement into an evaluable likelihood.
func Compile(m *model.Measurement) (*Model, error) {
	if len(m.Channels) == 0 {
		return nil, core.NewModelError("measurement "+m.Name, "no channels")
	}
	if !m.Interp.Valid() {
		return nil, core.NewModelError("measurement "+m.Name, fmt.Sprintf("unknown interpolation code %q", m.Interp))
	}

	c := &Model{index: make(map[string]int), lumi: -1, poi: -1}

	// norm factors first so the POI keeps a stable low index
	for _, ch := range m.Channels {
		for _, s := range ch.Samples {
			for _, nf := range s.NormFactors {
				if _, ok := c.index[nf.Name]; ok {
					continue
				}
				if !(nf.Low < nf.High) {
					return nil, core.NewModelError("norm factor "+nf.Name, fmt.Sprintf("degenerate range [%g, %g]", nf.Low, nf.High))
				}
				c.add(Parameter{Name: nf.Name, Kind: KindNormFactor, Init: nf.Val, Low: nf.Low, High: nf.High})
			}
		}
	}
	poi, ok := c.index[m.POI]
	if !ok {
		return nil, core.NewModelError("measurement "+m.Name, fmt.Sprintf("parameter of interest %q is not a norm factor", m.POI))
	}
	c.poi = poi

	for _, ch := range m.Channels {
		for _, s := range ch.Samples {
			for _, sys := range s.OverallSys {
				if _, ok := c.index[sys.Name]; ok {
					continue
				}
				i := c.add(Parameter{Name: sys.Name, Kind: KindOverallSys, Init: 0, Low: -nuisanceRange, High: nuisanceRange})
				c.constraints = append(c.constraints, constraint{param: i, dist: distuv.UnitNormal, mode: 0})
			}
		}
	}

	if m.Lumi <= 0 {
		return nil, core.NewModelError("lumi", fmt.Sprintf("luminosity must be positive, got %g", m.Lumi))
	}
	sigma := m.Lumi * m.LumiRelErr
	lumi := Parameter{Name: LumiName, Kind: KindLumi, Init: m.Lumi, Low: m.Lumi, High: m.Lumi, Constant: sigma <= 0}
	if !lumi.Constant {
		lumi.Low = math.Max(0, m.Lumi-nuisanceRange*sigma)
		lumi.High = m.Lumi + nuisanceRange*sigma
	}
	c.lumi = c.add(lumi)
	if !lumi.Constant {
		c.constraints = append(c.constraints, constraint{param: c.lumi, dist: distuv.Normal{Mu: m.Lumi, Sigma: sigma}, mode: m.Lumi})
	}

	offset := 0
	for _, ch := range m.Channels {
		if err := c.compileChannel(m, ch, offset); err != nil {
			return nil, err
		}
		offset += ch.Data.NBins()
	}
	return c, nil
}

func (c *Model) add(p Parameter) int {
	c.index[p.Name] = len(c.params)
	c.params = append(c.params, p)
	return len(c.params) - 1
}

func (c *Model) compileChannel(m *model.Measurement, ch model.Channel, offset int) error {
	nbins := ch.Data.NBins()
	if nbins == 0 {
		return core.NewModelError("channel "+ch.Name, "observed data histogram is empty")
	}
	c.data = append(c.data, ch.Data.Contents()...)

	// combined relative MC stat error of the samples that carry stat errors
	sumW := make([]float64, nbins)
	sumErr2 := make([]float64, nbins)
	for _, s := range ch.Samples {
		if err := ch.Data.CheckCoBinned(s.Nominal); err != nil {
			return fmt.Errorf("channel %s sample %s: %w", ch.Name, s.Name, err)
		}
		if !s.StatError {
			continue
		}
		for i := 0; i < nbins; i++ {
			sumW[i] += s.Nominal.Content(i)
			sumErr2[i] += s.Nominal.Error(i) * s.Nominal.Error(i)
		}
	}
	gammas := make([]int, nbins)
	for i := range gammas {
		gammas[i] = -1
		if sumW[i] <= 0 {
			continue
		}
		rel := math.Sqrt(sumErr2[i]) / sumW[i]
		if rel <= ch.StatConfig.RelThreshold {
			continue
		}
		name := fmt.Sprintf("gamma_stat_%s_bin_%d", ch.Name, i)
		p := Parameter{Name: name, Kind: KindStatGamma, Init: 1, Low: math.Max(1e-3, 1-nuisanceRange*rel), High: 1 + nuisanceRange*rel}
		idx := c.add(p)
		gammas[i] = idx
		switch ch.StatConfig.Constraint {
		case model.ConstraintGaussian:
			c.constraints = append(c.constraints, constraint{param: idx, dist: distuv.Normal{Mu: 1, Sigma: rel}, mode: 1})
		default:
			tau := 1 / (rel * rel)
			c.constraints = append(c.constraints, constraint{param: idx, dist: distuv.Gamma{Alpha: tau + 1, Beta: tau}, mode: 1})
		}
	}

	for _, s := range ch.Samples {
		cs := compiledSample{
			name:    s.Name,
			offset:  offset,
			nominal: s.Nominal.Contents(),
			lumi:    s.NormalizeByTheory,
		}
		for _, nf := range s.NormFactors {
			cs.norms = append(cs.norms, c.index[nf.Name])
		}
		for _, sys := range s.OverallSys {
			if m.Interp != model.InterpLinear && (sys.Low <= 0 || sys.High <= 0) {
				return core.NewModelError(sys.Name, fmt.Sprintf("bounds [%g, %g] must be positive for %s interpolation", sys.Low, sys.High, m.Interp))
			}
			cs.sys = append(cs.sys, sysTerm{param: c.index[sys.Name], resp: newResponse(m.Interp, sys.Low, sys.High)})
		}
		if s.StatError {
			cs.gammas = gammas
		}
		c.samples = append(c.samples, cs)
	}
	return nil
}

// Parameters returns a copy of the parameter list.
func (c *Model) Parameters() []Parameter {
	return append([]Parameter(nil), c.params...)
}

// Index returns the position of the named parameter.
func (c *Model) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// POI returns the index of the parameter of interest.
func (c *Model) POI() int { return c.poi }

// Init returns the starting point.
func (c *Model) Init() []float64 {
	x := make([]float64, len(c.params))
	for i, p := range c.params {
		x[i] = p.Init
	}
	return x
}

// Data returns the observed counts.
func (c *Model) Data() []float64 { return append([]float64(nil), c.data...) }

// NBins is the total number of bins across channels.
func (c *Model) NBins() int { return len(c.data) }

// SampleYields returns each sample's expected contribution per bin at x.
func (c *Model) SampleYields(x []float64) map[string][]float64 {
	out := make(map[string][]float64, len(c.samples))
	for _, s := range c.samples {
		y := make([]float64, len(s.nominal))
		c.sampleInto(y, s, x)
		if prev, ok := out[s.name]; ok {
			floats.Add(prev, y)
			continue
		}
		out[s.name] = y
	}
	return out
}

func (c *Model) sampleInto(dst []float64, s compiledSample, x []float64) {
	scale := 1.0
	for _, p := range s.norms {
		scale *= x[p]
	}
	for _, t := range s.sys {
		scale *= t.resp.factor(x[t.param])
	}
	if s.lumi {
		scale *= x[c.lumi]
	}
	for i, n := range s.nominal {
		v := scale * n
		if s.gammas != nil && s.gammas[i] >= 0 {
			v *= x[s.gammas[i]]
		}
		dst[i] = v
	}
}

// Expected returns λ for every bin at x.
func (c *Model) Expected(x []float64) []float64 {
	lambda := make([]float64, len(c.data))
	buf := make([]float64, 0, len(c.data))
	for _, s := range c.samples {
		buf = buf[:len(s.nominal)]
		c.sampleInto(buf, s, x)
		floats.Add(lambda[s.offset:s.offset+len(buf)], buf)
	}
	return lambda
}

// NLL is the negative log-likelihood at x, offset by the saturated model so a
// perfect description of the data with all nuisances at their nominal values
// gives zero.
func (c *Model) NLL(x []float64) float64 {
	lambda := c.Expected(x)
	var nll float64
	for i, d := range c.data {
		l := math.Max(lambda[i], minExpected)
		nll += l - d
		if d > 0 {
			nll += d * math.Log(d/l)
		}
	}
	for _, k := range c.constraints {
		nll += k.nll(x[k.param])
	}
	return nll
}

// Values maps parameter names to the values in x.
func (c *Model) Values(x []float64) map[string]float64 {
	out := make(map[string]float64, len(c.params))
	for i, p := range c.params {
		out[p.Name] = x[i]
	}
	return out
}
