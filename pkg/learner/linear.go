package learner

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// KindBayesianLinear identifies the Bayesian linear regression learner.
const KindBayesianLinear = "bayesian_linear"

// Contextual is implemented by learners whose posterior depends on a feature
// vector. At binds the learner to one context: the returned view predicts,
// samples and updates the model at x and shares its state.
type Contextual interface {
	Learner
	Dim() int
	At(x []float64) (Learner, error)
}

// BayesianLinear models rewards as y = w.x + noise, with a Gaussian prior
// N(0, I/lambda) on the weights and a known noise variance. The posterior is
// kept in information form: precision A and moment b, so the posterior mean
// is solve(A, b) and the covariance is the inverse of A.
//
// Without a context the model is evaluated at the all-ones vector, so a
// one-dimensional BayesianLinear is a Gaussian mean learner.
type BayesianLinear struct {
	dim           int
	lambda        float64
	noiseVariance float64
	learningRate  float64

	precision *mat.SymDense
	moment    *mat.VecDense
	n         float64
}

var _ Contextual = (*BayesianLinear)(nil)

// NewBayesianLinear creates a learner at the prior.
//
// Args:
//   - dim: feature vector length (>= 1)
//   - lambda: prior precision of every weight (> 0)
//   - noiseVariance: variance of the reward noise (> 0)
//   - learningRate: share of evidence kept on Decay, in (0, 1]
func NewBayesianLinear(dim int, lambda, noiseVariance, learningRate float64) (*BayesianLinear, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: dim must be at least 1, got %d", ErrInvalidHyperparameter, dim)
	}
	if !(lambda > 0) || math.IsInf(lambda, 0) {
		return nil, fmt.Errorf("%w: prior precision must be positive, got %v", ErrInvalidHyperparameter, lambda)
	}
	if !(noiseVariance > 0) || math.IsInf(noiseVariance, 0) {
		return nil, fmt.Errorf("%w: noise variance must be positive, got %v", ErrInvalidHyperparameter, noiseVariance)
	}
	if !(learningRate > 0 && learningRate <= 1) {
		return nil, fmt.Errorf("%w: learning rate must be in (0, 1], got %v", ErrInvalidHyperparameter, learningRate)
	}

	l := &BayesianLinear{
		dim:           dim,
		lambda:        lambda,
		noiseVariance: noiseVariance,
		learningRate:  learningRate,
		precision:     mat.NewSymDense(dim, nil),
		moment:        mat.NewVecDense(dim, nil),
	}
	for i := 0; i < dim; i++ {
		l.precision.SetSym(i, i, lambda)
	}
	return l, nil
}

func (l *BayesianLinear) Kind() string { return KindBayesianLinear }

// Dim returns the required context length.
func (l *BayesianLinear) Dim() int { return l.dim }

func (l *BayesianLinear) Count() float64 { return l.n }

// At returns a view of the learner conditioned on x.
func (l *BayesianLinear) At(x []float64) (Learner, error) {
	xv, err := l.context(x)
	if err != nil {
		return nil, err
	}
	return &linearView{model: l, x: xv}, nil
}

func (l *BayesianLinear) Predict() float64 {
	return l.predictAt(l.ones())
}

func (l *BayesianLinear) Sample(src rand.Source) float64 {
	return l.sampleAt(l.ones(), src)
}

func (l *BayesianLinear) Update(y float64) error {
	return l.updateAt(l.ones(), y)
}

// Decay moves the precision toward the prior and shrinks the moment and
// observation count by the learning rate.
func (l *BayesianLinear) Decay() {
	if l.learningRate == 1 {
		return
	}
	for i := 0; i < l.dim; i++ {
		for j := i; j < l.dim; j++ {
			prior := 0.0
			if i == j {
				prior = l.lambda
			}
			l.precision.SetSym(i, j, decayToward(l.precision.At(i, j), prior, l.learningRate))
		}
	}
	l.moment.ScaleVec(l.learningRate, l.moment)
	l.n *= l.learningRate
}

func (l *BayesianLinear) Clone() Learner {
	c := *l
	c.precision = mat.NewSymDense(l.dim, nil)
	c.precision.CopySym(l.precision)
	c.moment = mat.VecDenseCopyOf(l.moment)
	return &c
}

// ExportState flattens the upper triangle of the precision as
// "precision_i_j" and the moment as "moment_i".
func (l *BayesianLinear) ExportState() (State, error) {
	params := make(map[string]float64, 2+l.dim+l.dim*(l.dim+1)/2)
	params["dim"] = float64(l.dim)
	params["n"] = l.n
	for i := 0; i < l.dim; i++ {
		params[momentKey(i)] = l.moment.AtVec(i)
		for j := i; j < l.dim; j++ {
			params[precisionKey(i, j)] = l.precision.At(i, j)
		}
	}
	return State{Kind: KindBayesianLinear, Params: params}, nil
}

func (l *BayesianLinear) FromState(s State) (Learner, error) {
	if err := checkKind(s, KindBayesianLinear); err != nil {
		return nil, err
	}
	if dim, ok := s.Params["dim"]; !ok || dim != float64(l.dim) {
		return nil, fmt.Errorf("%w: %s state has dim %v, want %d", ErrStateMismatch, s.Kind, s.Params["dim"], l.dim)
	}

	restored := l.Clone().(*BayesianLinear)
	for i := 0; i < l.dim; i++ {
		v, err := finiteParam(s, momentKey(i))
		if err != nil {
			return nil, err
		}
		restored.moment.SetVec(i, v)
		for j := i; j < l.dim; j++ {
			v, err := finiteParam(s, precisionKey(i, j))
			if err != nil {
				return nil, err
			}
			restored.precision.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(restored.precision); !ok {
		return nil, fmt.Errorf("%w: %s precision is not positive definite", ErrStateMismatch, s.Kind)
	}

	n, err := observations(s, 0)
	if err != nil {
		return nil, err
	}
	restored.n = n
	return restored, nil
}

// context validates x and copies it into a vector
func (l *BayesianLinear) context(x []float64) (*mat.VecDense, error) {
	if len(x) != l.dim {
		return nil, fmt.Errorf("%w: want %d features, got %d", ErrInvalidContext, l.dim, len(x))
	}
	for i, v := range x {
		if !finite(v) {
			return nil, fmt.Errorf("%w: feature %d is %v", ErrInvalidContext, i, v)
		}
	}
	return mat.NewVecDense(l.dim, append([]float64(nil), x...)), nil
}

func (l *BayesianLinear) ones() *mat.VecDense {
	data := make([]float64, l.dim)
	for i := range data {
		data[i] = 1
	}
	return mat.NewVecDense(l.dim, data)
}

// posterior returns the mean weights and x's predictive variance. A
// precision that cannot be factorized yields NaN, which no policy selects.
func (l *BayesianLinear) posterior(x *mat.VecDense) (float64, float64) {
	var chol mat.Cholesky
	if ok := chol.Factorize(l.precision); !ok {
		return math.NaN(), math.NaN()
	}
	var w, z mat.VecDense
	if err := chol.SolveVecTo(&w, l.moment); err != nil {
		return math.NaN(), math.NaN()
	}
	if err := chol.SolveVecTo(&z, x); err != nil {
		return math.NaN(), math.NaN()
	}
	return mat.Dot(&w, x), mat.Dot(x, &z)
}

func (l *BayesianLinear) predictAt(x *mat.VecDense) float64 {
	mean, _ := l.posterior(x)
	return mean
}

func (l *BayesianLinear) sampleAt(x *mat.VecDense, src rand.Source) float64 {
	mean, variance := l.posterior(x)
	if math.IsNaN(mean) || math.IsNaN(variance) {
		return math.NaN()
	}
	dist := distuv.Normal{Mu: mean, Sigma: math.Sqrt(math.Max(variance, 0)), Src: src}
	return dist.Rand()
}

func (l *BayesianLinear) updateAt(x *mat.VecDense, y float64) error {
	if !finite(y) {
		return fmt.Errorf("%w: %s requires a finite reward, got %v", ErrInvalidObservation, KindBayesianLinear, y)
	}
	l.precision.SymRankOne(l.precision, 1/l.noiseVariance, x)
	l.moment.AddScaledVec(l.moment, y/l.noiseVariance, x)
	l.n++
	return nil
}

func momentKey(i int) string {
	return "moment_" + strconv.Itoa(i)
}

func precisionKey(i, j int) string {
	return "precision_" + strconv.Itoa(i) + "_" + strconv.Itoa(j)
}

func finiteParam(s State, name string) (float64, error) {
	v, ok := s.Params[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s state missing %q", ErrStateMismatch, s.Kind, name)
	}
	if !finite(v) {
		return 0, fmt.Errorf("%w: %s state has invalid %q=%v", ErrStateMismatch, s.Kind, name, v)
	}
	return v, nil
}

// linearView is a BayesianLinear bound to one context
type linearView struct {
	model *BayesianLinear
	x     *mat.VecDense
}

func (v *linearView) Kind() string                   { return v.model.Kind() }
func (v *linearView) Predict() float64               { return v.model.predictAt(v.x) }
func (v *linearView) Sample(src rand.Source) float64 { return v.model.sampleAt(v.x, src) }
func (v *linearView) Count() float64                 { return v.model.n }
func (v *linearView) Update(y float64) error         { return v.model.updateAt(v.x, y) }
func (v *linearView) Decay()                         { v.model.Decay() }
func (v *linearView) ExportState() (State, error)    { return v.model.ExportState() }

func (v *linearView) Clone() Learner {
	return &linearView{model: v.model.Clone().(*BayesianLinear), x: v.x}
}

func (v *linearView) FromState(s State) (Learner, error) {
	return v.model.FromState(s)
}
