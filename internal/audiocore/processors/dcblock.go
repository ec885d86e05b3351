package processors

// DCBlocker removes the DC offset some capture devices add, using a one pole
// high pass filter: y[n] = x[n] - x[n-1] + r*y[n-1].
type DCBlocker struct {
	id    string
	r     float32
	prevX float32
	prevY float32
}

// NewDCBlocker returns a DC blocker. r close to 1 keeps more low frequencies; 0.995 suits 16 kHz.
func NewDCBlocker(id string, r float32) *DCBlocker {
	if r <= 0 || r >= 1 {
		r = 0.995
	}
	return &DCBlocker{id: id, r: r}
}

// ID implements audiocore.Processor.
func (d *DCBlocker) ID() string { return d.id }

// Apply implements audiocore.Processor.
func (d *DCBlocker) Apply(quantum []float32) {
	for i, x := range quantum {
		y := x - d.prevX + d.r*d.prevY
		d.prevX, d.prevY = x, y
		quantum[i] = y
	}
}

// Reset clears the filter state.
func (d *DCBlocker) Reset() {
	d.prevX, d.prevY = 0, 0
}
