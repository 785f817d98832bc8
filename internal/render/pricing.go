package render

import (
	"errors"
	"math"
)

// Quality multiplier bounds for a render submission.
const (
	MinQualityMultiplier = 0.5
	MaxQualityMultiplier = 3.0
)

// CostParams are the pricing inputs. Defaults match the platform's
// published credit schedule; billing compatibility depends on the
// formula in Cost staying exact.
type CostParams struct {
	BaseRenderCost float64
	PerSceneCost   float64
}

// DefaultCostParams is the standard credit schedule.
var DefaultCostParams = CostParams{
	BaseRenderCost: 5,
	PerSceneCost:   2,
}

var errInvalidCostInputs = errors.New("invalid cost inputs")

// Cost computes the credit cost of a render:
// ceil(base + sceneCount*perScene) * qualityMultiplier, rounded to the
// nearest integer credit, never less than 1.
func (p CostParams) Cost(sceneCount int, qualityMultiplier float64) (int, error) {
	if sceneCount < 1 {
		return 0, errInvalidCostInputs
	}
	if qualityMultiplier < MinQualityMultiplier || qualityMultiplier > MaxQualityMultiplier {
		return 0, errInvalidCostInputs
	}
	raw := math.Ceil(p.BaseRenderCost+float64(sceneCount)*p.PerSceneCost) * qualityMultiplier
	cost := int(math.Round(raw))
	if cost < 1 {
		cost = 1
	}
	return cost, nil
}
