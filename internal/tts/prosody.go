package tts

import (
	"math"
	"strconv"
)

const (
	defaultPitch = "1"
	defaultRate  = "100%"
)

// Prosody holds the SSML attribute values shared by every sentence of one request.
type Prosody struct {
	Pitch string
	Rate  string
}

// DefaultProsody is used when the caller sets neither pitch nor rate.
func DefaultProsody() Prosody {
	return Prosody{Pitch: defaultPitch, Rate: defaultRate}
}

// MapProsody converts normalized values to Riva SSML attributes. Pitch [0,2] maps to
// [-3,3]; rate [0,3] maps to [25,250] percent, truncated. Nil values keep the defaults.
func MapProsody(pitch, rate *float64) Prosody {
	p := DefaultProsody()
	if pitch != nil {
		p.Pitch = strconv.FormatFloat(interp(*pitch, 0, 2, -3, 3), 'f', -1, 64)
	}
	if rate != nil {
		p.Rate = strconv.Itoa(int(interp(*rate, 0, 3, 25, 250))) + "%"
	}
	return p
}

// interp maps v from [x0,x1] onto [y0,y1], clamping outside the input range.
func interp(v, x0, x1, y0, y1 float64) float64 {
	switch {
	case math.IsNaN(v), v <= x0:
		return y0
	case v >= x1:
		return y1
	}
	return y0 + (v-x0)*(y1-y0)/(x1-x0)
}
