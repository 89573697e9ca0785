package indicator

import (
	"time"

	"analytics-enginev1/internal/markethours"
	"analytics-enginev1/internal/model"
)

// OBV is On-Balance Volume: 0 on the first bar, then ±volume by close direction.
type OBV struct {
	prevClose float64
	current   float64
	seen      bool
}

func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string { return "obv" }

func (o *OBV) Update(candle model.Candle) {
	if o.seen {
		switch {
		case candle.Close > o.prevClose:
			o.current += candle.Volume
		case candle.Close < o.prevClose:
			o.current -= candle.Volume
		}
	}
	o.seen = true
	o.prevClose = candle.Close
}

func (o *OBV) Value() float64 { return o.current }
func (o *OBV) Ready() bool    { return o.seen }

// OBVValues returns OBV for every bar.
func OBVValues(s *model.Series) []model.NullFloat {
	return fold(s, NewOBV())
}

// VWAP accumulates Σ(typical·volume)/Σ(volume). With a session set it resets
// on the first bar of every new session.
type VWAP struct {
	session *markethours.Session
	pv, vol float64
	seen    bool
	last    time.Time
}

// NewVWAP creates a VWAP. A nil session never resets.
func NewVWAP(session *markethours.Session) *VWAP {
	return &VWAP{session: session}
}

func (v *VWAP) Name() string { return "vwap" }

func (v *VWAP) Update(candle model.Candle) {
	if v.session != nil && v.seen && !v.session.SameSession(v.last, candle.Time) {
		v.pv, v.vol = 0, 0
	}
	v.seen = true
	v.last = candle.Time
	v.pv += candle.TypicalPrice() * candle.Volume
	v.vol += candle.Volume
}

func (v *VWAP) Value() float64 { return v.pv / v.vol }

// Ready is false while the session has seen no volume.
func (v *VWAP) Ready() bool { return v.seen && v.vol > 0 }

// VWAPValues returns VWAP for every bar. Intraday series reset per session.
func VWAPValues(s *model.Series, session markethours.Session) []model.NullFloat {
	var sp *markethours.Session
	if s.Timeframe.Intraday() {
		sp = &session
	}
	return fold(s, NewVWAP(sp))
}

// RelativeVolume is current volume over the mean volume of the previous period bars.
type RelativeVolume struct {
	period  int
	sma     *SMA
	current float64
	ready   bool
}

func NewRelativeVolume(period int) *RelativeVolume {
	return &RelativeVolume{period: period, sma: NewSMA(period)}
}

func (r *RelativeVolume) Name() string { return "rvol" }

func (r *RelativeVolume) Update(candle model.Candle) {
	// The average excludes the current bar, so read it before adding.
	r.ready = false
	if r.sma.Ready() && r.sma.Value() > 0 {
		r.current = candle.Volume / r.sma.Value()
		r.ready = true
	}
	r.sma.Add(candle.Volume)
}

func (r *RelativeVolume) Value() float64 { return r.current }
func (r *RelativeVolume) Ready() bool    { return r.ready }

// RelativeVolumeValues returns relative volume for every bar.
func RelativeVolumeValues(s *model.Series, period int) ([]model.NullFloat, error) {
	if err := checkPeriod("rvol", period); err != nil {
		return nil, err
	}
	return fold(s, NewRelativeVolume(period)), nil
}
