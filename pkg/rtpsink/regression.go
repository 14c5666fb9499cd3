package rtpsink

import "math"

// point is one (x, y) sample in a LinearRegression's ring buffer.
type point struct {
	x, y float32
}

// LinearRegression fits a total-least-squares line through a bounded
// history of (rtpTime, arrivalTimeMedia) points, ported verbatim from
// LinearRegression.cpp's orthogonal-distance derivation. Used to
// estimate how late an arriving packet is relative to the line fitted
// from recent history.
type LinearRegression struct {
	historySize int
	history     []point
	sumX, sumY  float64
}

// NewLinearRegression returns a regression tracker retaining at most
// historySize points.
func NewLinearRegression(historySize int) *LinearRegression {
	return &LinearRegression{historySize: historySize}
}

// AddPoint records a new sample, evicting the oldest once the history
// bound is reached.
func (r *LinearRegression) AddPoint(x, y float32) {
	if len(r.history) == r.historySize {
		oldest := r.history[0]
		r.sumX -= float64(oldest.x)
		r.sumY -= float64(oldest.y)
		r.history = r.history[1:]
	}
	r.history = append(r.history, point{x: x, y: y})
	r.sumX += float64(x)
	r.sumY += float64(y)
}

// ApproxLine computes the total-least-squares fit through the current
// history: the unit normal (n1, n2) to the best-fit line and its
// offset b, satisfying n1*x + n2*y = b. It returns false if fewer than
// two points have been recorded.
func (r *LinearRegression) ApproxLine() (n1, n2, b float32, ok bool) {
	const epsilon = 1.0e-4

	count := len(r.history)
	if count < 2 {
		return 0, 0, 0, false
	}

	meanX := float32(r.sumX / float64(count))
	meanY := float32(r.sumY / float64(count))

	var sumX2, sumY2, sumXY float32
	for _, p := range r.history {
		x := p.x - meanX
		y := p.y - meanY
		sumX2 += x * x
		sumY2 += y * y
		sumXY += x * y
	}

	t := sumX2 + sumY2
	d := sumX2*sumY2 - sumXY*sumXY
	root := float32(math.Sqrt(float64(t*t*0.25 - d)))

	l1 := t*0.5 - root

	if float32(math.Abs(float64(sumXY))) > epsilon {
		n1 = 1.0
		n2 = (2.0*l1 - sumX2) / sumXY

		mag := float32(math.Sqrt(float64(n1*n1 + n2*n2)))
		n1 /= mag
		n2 /= mag
	} else {
		n1 = 0.0
		n2 = 1.0
	}

	b = n1*meanX + n2*meanY
	return n1, n2, b, true
}

// EstimateLatenessMs fits the current history and, for a packet
// arriving with the given rtpTime/arrivalTimeMedia (both in 90kHz
// units), returns how many milliseconds late it arrived relative to
// the line's prediction. ok is false when too few points have been
// collected to fit a line.
func EstimateLatenessMs(r *LinearRegression, rtpTime, arrivalTimeMedia float32) (latenessMs float32, ok bool) {
	n1, n2, b, fitted := r.ApproxLine()
	if !fitted || n2 == 0 {
		return 0, false
	}
	expectedArrivalTimeMedia := (b - n1*rtpTime) / n2
	return (arrivalTimeMedia - expectedArrivalTimeMedia) / 90.0, true
}
