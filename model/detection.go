package model

import "image"

const PersonLabel = "person"

// Detection is the per-frame output of the local edge model: person
// boxes with confidence scores, already filtered by threshold. It is
// consumed immediately and never retained across frames.
type Detection struct {
	Boxes  []image.Rectangle
	Scores []float32
	Label  string
}

func (d Detection) PersonPresent() bool {
	return len(d.Boxes) > 0
}

func (d Detection) Best() (image.Rectangle, float32) {
	best := -1
	max := float32(0)
	for i, s := range d.Scores {
		if s > max {
			max = s
			best = i
		}
	}
	if best < 0 {
		return image.Rectangle{}, 0
	}
	return d.Boxes[best], max
}
