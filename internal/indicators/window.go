// Package indicators holds rolling price windows and the indicators the
// built-in strategies read from them.
package indicators

// Window keeps the last size prices. It is not safe for concurrent use;
// each strategy lane owns its own.
type Window struct {
	values []float64
	size   int
}

// NewWindow returns an empty window holding at most size values.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{values: make([]float64, 0, size), size: size}
}

// Push appends a price, dropping the oldest once full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Len is the number of values held.
func (w *Window) Len() int { return len(w.values) }

// Full reports whether the window holds size values.
func (w *Window) Full() bool { return len(w.values) == w.size }

// Last returns the newest value or 0.
func (w *Window) Last() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return w.values[len(w.values)-1]
}

// Reset empties the window.
func (w *Window) Reset() { w.values = w.values[:0] }

// SMA over the newest period values; 0 until enough data.
func (w *Window) SMA(period int) float64 { return SMA(w.values, period) }

// RSI over the newest period changes; 0 until enough data.
func (w *Window) RSI(period int) float64 { return RSI(w.values, period) }

// SMA calculates the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// RSI is the unsmoothed relative strength index of the last period
// changes. A window with no losses reads 100, one with no moves reads 50.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}
	var gain, loss float64
	for i := len(values) - period; i < len(values); i++ {
		switch change := values[i] - values[i-1]; {
		case change > 0:
			gain += change
		case change < 0:
			loss -= change
		}
	}
	switch {
	case gain == 0 && loss == 0:
		return 50
	case loss == 0:
		return 100
	}
	return 100 - 100/(1+gain/loss)
}
