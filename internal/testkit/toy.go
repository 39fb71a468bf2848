package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"sigfit/domain/histogram"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Shape returns the expected content of every bin given the bin edges.
type Shape func(edges []float64) []float64

// Flat puts perBin events in every bin.
func Flat(perBin float64) Shape {
	return func(edges []float64) []float64 {
		out := make([]float64, len(edges)-1)
		for i := range out {
			out[i] = perBin
		}
		return out
	}
}

// Gaussian distributes total events as a normal peak, integrated per bin.
func Gaussian(total, mean, sigma float64) Shape {
	return func(edges []float64) []float64 {
		n := distuv.Normal{Mu: mean, Sigma: sigma}
		out := make([]float64, len(edges)-1)
		for i := range out {
			out[i] = total * (n.CDF(edges[i+1]) - n.CDF(edges[i]))
		}
		return out
	}
}

// Falling distributes total events as an exponential with the given slope,
// normalized over the histogram range.
func Falling(total, slope float64) Shape {
	return func(edges []float64) []float64 {
		lo, hi := edges[0], edges[len(edges)-1]
		norm := math.Exp(-lo/slope) - math.Exp(-hi/slope)
		out := make([]float64, len(edges)-1)
		for i := range out {
			out[i] = total * (math.Exp(-edges[i]/slope) - math.Exp(-edges[i+1]/slope)) / norm
		}
		return out
	}
}

// ProcessShape describes one simulated process in both regions. A nil CR
// means the process has no control-region contribution.
type ProcessShape struct {
	Name string
	SR   Shape
	CR   Shape
	// RelStatErr sets per-bin MC errors as a fraction of content; zero means sqrt(N).
	RelStatErr float64
}

// ToySpec configures a synthetic analysis input.
type ToySpec struct {
	Variable      string           `json:"variable"`
	NBins         int              `json:"nbins"`
	Low           float64          `json:"low"`
	High          float64          `json:"high"`
	DataProcess   string           `json:"data_process"`
	ControlRegion histogram.Region `json:"control_region"`

	Signal      ProcessShape   `json:"-"`
	Backgrounds []ProcessShape `json:"-"`
	// QCDControl is the true multijet yield in the control region.
	QCDControl Shape `json:"-"`
	// QCDScale extrapolates QCDControl into the signal region.
	QCDScale float64 `json:"qcd_scale"`

	SignalStrength float64 `json:"signal_strength"`
	Seed           uint64  `json:"seed"`
	// Fluctuate draws Poisson data instead of using the Asimov expectation.
	Fluctuate bool `json:"fluctuate"`
}

// DefaultToySpec mirrors the shape of a Z→ττ visible-mass analysis.
func DefaultToySpec() ToySpec {
	return ToySpec{
		Variable:      "m_vis",
		NBins:         15,
		Low:           20,
		High:          140,
		DataProcess:   "2022G",
		ControlRegion: histogram.ControlRegion,
		Signal: ProcessShape{
			Name: "ZTT",
			SR:   Gaussian(4000, 65, 12),
			CR:   Gaussian(400, 65, 12),
		},
		Backgrounds: []ProcessShape{
			{Name: "ZLL", SR: Gaussian(800, 91, 4), CR: Gaussian(60, 91, 4)},
			{Name: "TT", SR: Falling(600, 80), CR: Falling(300, 80)},
			{Name: "W", SR: Falling(1200, 40), CR: Falling(500, 40)},
		},
		QCDControl:     Falling(2000, 35),
		QCDScale:       0.80,
		SignalStrength: 1,
		Seed:           42,
	}
}

// Toy is the generated input set.
type Toy struct {
	Spec  ToySpec
	Hists map[histogram.Key]histogram.Histogram
	// TrueQCD is the signal-region multijet template used to build data.
	TrueQCD histogram.Histogram
}

// Store returns a MemoryStore holding every toy histogram.
func (t *Toy) Store() *MemoryStore { return NewMemoryStore(t.Hists) }

// Named returns the histograms keyed by artifact name.
func (t *Toy) Named() map[string]histogram.Histogram {
	out := make(map[string]histogram.Histogram, len(t.Hists))
	for k, h := range t.Hists {
		out[k.Name()] = h
	}
	return out
}

// ToyGenerator builds synthetic analysis inputs with a reproducible random source.
type ToyGenerator struct {
	spec  ToySpec
	edges []float64
	rng   *rand.Rand
}

// NewToyGenerator validates spec and prepares the binning.
func NewToyGenerator(spec ToySpec) (*ToyGenerator, error) {
	if spec.NBins <= 0 || !(spec.High > spec.Low) {
		return nil, fmt.Errorf("toy binning: %d bins over [%g, %g)", spec.NBins, spec.Low, spec.High)
	}
	if spec.Signal.SR == nil {
		return nil, fmt.Errorf("toy signal %q has no signal-region shape", spec.Signal.Name)
	}
	return &ToyGenerator{
		spec:  spec,
		edges: floats.Span(make([]float64, spec.NBins+1), spec.Low, spec.High),
		rng:   rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Generate produces the simulated templates in both regions and the observed
// data, built as μ·signal + Σ backgrounds + scale·QCD in the signal region and
// Σ simulated + QCD in the control region.
func (g *ToyGenerator) Generate() (*Toy, error) {
	s := g.spec
	hists := make(map[histogram.Key]histogram.Histogram)
	nb := len(g.edges) - 1
	dataSR := make([]float64, nb)
	dataCR := make([]float64, nb)

	processes := append([]ProcessShape{s.Signal}, s.Backgrounds...)
	for i, p := range processes {
		sr := p.SR(g.edges)
		h, err := histogram.New(g.edges, sr, p.errors(sr))
		if err != nil {
			return nil, fmt.Errorf("toy %s: %w", p.Name, err)
		}
		hists[histogram.Key{Process: p.Name, Variable: s.Variable}] = h

		weight := 1.0
		if i == 0 {
			weight = s.SignalStrength
		}
		floats.AddScaled(dataSR, weight, sr)

		if p.CR == nil {
			continue
		}
		cr := p.CR(g.edges)
		hcr, err := histogram.New(g.edges, cr, p.errors(cr))
		if err != nil {
			return nil, fmt.Errorf("toy %s control region: %w", p.Name, err)
		}
		hists[histogram.Key{Process: p.Name, Variable: s.Variable, Region: s.ControlRegion}] = hcr
		floats.Add(dataCR, cr)
	}

	trueQCD := make([]float64, nb)
	if s.QCDControl != nil {
		qcr := s.QCDControl(g.edges)
		floats.Add(dataCR, qcr)
		floats.AddScaled(trueQCD, s.QCDScale, qcr)
		floats.Add(dataSR, trueQCD)
	}
	qcd, err := histogram.New(g.edges, trueQCD, nil)
	if err != nil {
		return nil, err
	}

	if s.Fluctuate {
		g.fluctuate(dataSR)
		g.fluctuate(dataCR)
	}
	for region, contents := range map[histogram.Region][]float64{histogram.SignalRegion: dataSR, s.ControlRegion: dataCR} {
		h, err := histogram.New(g.edges, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("toy data %s: %w", region, err)
		}
		hists[histogram.Key{Process: s.DataProcess, Variable: s.Variable, Region: region}] = h
	}

	return &Toy{Spec: s, Hists: hists, TrueQCD: qcd}, nil
}

func (g *ToyGenerator) fluctuate(contents []float64) {
	for i, lambda := range contents {
		if lambda <= 0 {
			contents[i] = 0
			continue
		}
		contents[i] = distuv.Poisson{Lambda: lambda, Src: g.rng}.Rand()
	}
}

func (p ProcessShape) errors(contents []float64) []float64 {
	if p.RelStatErr <= 0 {
		return nil
	}
	errs := make([]float64, len(contents))
	for i, c := range contents {
		errs[i] = math.Abs(c) * p.RelStatErr
	}
	return errs
}

// MustToy generates spec or panics; intended for tests.
func MustToy(spec ToySpec) *Toy {
	g, err := NewToyGenerator(spec)
	if err != nil {
		panic(err)
	}
	toy, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return toy
}
