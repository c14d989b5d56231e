package graph

import (
	"fmt"
	"math"
)

// Builtin aspects, always present in the catalogue.
const (
	AspectClear AspectID = "clear"
	AspectStop  AspectID = "stop"
)

// ConstraintElement is the reference point of a ConstraintPosition.
type ConstraintElement string

const (
	ElementCurrentSignal ConstraintElement = "current_signal"
	ElementNextSignal    ConstraintElement = "next_signal"
	ElementEnd           ConstraintElement = "end"
)

// ConstraintPosition locates a constraint bound relative to a path element.
type ConstraintPosition struct {
	Element ConstraintElement `json:"element"`
	Offset  float64           `json:"offset"` // metres
}

// ConstraintKindSpeedLimit is the only supported AspectConstraint kind.
const ConstraintKindSpeedLimit = "speed_limit"

// AspectConstraint restricts a train seeing an aspect. A speed limit applies
// from AppliesAt until Until, and is announced by a braking curve before AppliesAt.
type AspectConstraint struct {
	Kind      string             `json:"kind"`
	Speed     float64            `json:"speed"` // m/s
	AppliesAt ConstraintPosition `json:"applies_at"`
	Until     ConstraintPosition `json:"until"`
}

// Aspect is the displayed state of a signal and the constraints it implies.
type Aspect struct {
	ID          AspectID           `json:"aspect_id"`
	Constraints []AspectConstraint `json:"constraints"`
}

func builtinAspects() []*Aspect {
	return []*Aspect{
		{ID: AspectClear},
		{ID: AspectStop, Constraints: []AspectConstraint{{
			Kind:      ConstraintKindSpeedLimit,
			Speed:     0,
			AppliesAt: ConstraintPosition{Element: ElementCurrentSignal},
			Until:     ConstraintPosition{Element: ElementEnd},
		}}},
	}
}

func validateAspect(a *Aspect) error {
	if a.ID == "" {
		return fmt.Errorf("%w: aspect with empty id", ErrInvalidInfra)
	}
	for i, c := range a.Constraints {
		if c.Kind != ConstraintKindSpeedLimit {
			return fmt.Errorf("%w: aspect %q constraint %d: unknown kind %q", ErrInvalidInfra, a.ID, i, c.Kind)
		}
		if c.Speed < 0 || math.IsNaN(c.Speed) {
			return fmt.Errorf("%w: aspect %q constraint %d: invalid speed %v", ErrInvalidInfra, a.ID, i, c.Speed)
		}
		for _, p := range []ConstraintPosition{c.AppliesAt, c.Until} {
			switch p.Element {
			case ElementCurrentSignal, ElementNextSignal, ElementEnd:
			default:
				return fmt.Errorf("%w: aspect %q constraint %d: unknown element %q", ErrInvalidInfra, a.ID, i, p.Element)
			}
		}
	}
	return nil
}
