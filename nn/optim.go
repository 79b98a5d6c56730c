package nn

// Optimizer applies one update step to a parameter set. Non-trainable
// buffers are skipped.
type Optimizer interface {
	Step(params []*Param)
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm. It returns the norm before clipping. A maxNorm <= 0
// disables clipping.
func ClipGradNorm(params []*Param, maxNorm float32) float32 {
	var sq float32
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		for _, g := range p.Grad {
			sq += g * g
		}
	}
	norm := sqrt32(sq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			if !p.Trainable {
				continue
			}
			for i := range p.Grad {
				p.Grad[i] *= scale
			}
		}
	}
	return norm
}

// SGD is plain stochastic gradient descent with optional momentum.
type SGD struct {
	LR       float32
	Momentum float32

	vel map[*Param][]float32
}

// NewSGD builds an SGD optimizer.
func NewSGD(lr, momentum float32) *SGD {
	return &SGD{LR: lr, Momentum: momentum, vel: make(map[*Param][]float32)}
}

// Step applies one SGD update.
func (s *SGD) Step(params []*Param) {
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		if s.Momentum == 0 {
			for i := range p.Data {
				p.Data[i] -= s.LR * p.Grad[i]
			}
			continue
		}
		v := s.vel[p]
		if v == nil {
			v = make([]float32, len(p.Data))
			s.vel[p] = v
		}
		for i := range p.Data {
			v[i] = s.Momentum*v[i] + p.Grad[i]
			p.Data[i] -= s.LR * v[i]
		}
	}
}

// Adam is the Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	LR    float32
	Beta1 float32
	Beta2 float32
	Eps   float32

	b1pow float32
	b2pow float32
	m     map[*Param][]float32
	v     map[*Param][]float32
}

// NewAdam builds an Adam optimizer.
func NewAdam(lr, beta1, beta2, eps float32) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: beta1,
		Beta2: beta2,
		Eps:   eps,
		b1pow: 1,
		b2pow: 1,
		m:     make(map[*Param][]float32),
		v:     make(map[*Param][]float32),
	}
}

// Step applies one Adam update.
func (a *Adam) Step(params []*Param) {
	a.b1pow *= a.Beta1
	a.b2pow *= a.Beta2
	b1c := 1 - a.b1pow
	b2c := 1 - a.b2pow
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		m := a.m[p]
		v := a.v[p]
		if m == nil {
			m = make([]float32, len(p.Data))
			v = make([]float32, len(p.Data))
			a.m[p] = m
			a.v[p] = v
		}
		for i := range p.Data {
			g := p.Grad[i]
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			mhat := m[i] / b1c
			vhat := v[i] / b2c
			p.Data[i] -= a.LR * mhat / (sqrt32(vhat) + a.Eps)
		}
	}
}
