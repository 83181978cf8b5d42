package engine

import "github.com/ggoodman/ssebridge/sse"

// prober owns the keepalive line. The line is built once and every emission
// writes the same bytes.
type prober struct {
	enabled bool
	line    []byte
}

func newProber(enabled bool, payload string) (*prober, error) {
	line, err := sse.NewProbeLine(payload)
	if err != nil {
		return nil, &ConfigError{Field: "probe payload", Reason: err.Error()}
	}
	return &prober{enabled: enabled, line: line}, nil
}

// onTimeout returns the probe to emit after an idle wait window, if probing
// is enabled.
func (p *prober) onTimeout() (Segment, bool) {
	if !p.enabled {
		return Segment{}, false
	}
	return p.segment(), true
}

// forced returns the probe regardless of configuration. Publishers use the
// health-check control signal to request one.
func (p *prober) forced() Segment { return p.segment() }

func (p *prober) segment() Segment {
	return Segment{Kind: SegmentProbe, Data: p.line}
}
