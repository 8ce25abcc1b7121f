package domain

// Video models accepted by the intake endpoint.
const (
	ModelSora2    = "sora-2"
	ModelVeoFlash = "veo-flash"
	ModelVeoPro   = "veo-pro"

	DefaultModel       = ModelSora2
	DefaultAspectRatio = "16:9"
	DefaultDuration    = "5"
)

var modelCosts = map[string]int64{
	ModelSora2:    10,
	ModelVeoFlash: 50,
	ModelVeoPro:   250,
}

// CostForModel returns the per-video credit price of a consumer model.
func CostForModel(model string) (int64, bool) {
	cost, ok := modelCosts[model]
	return cost, ok
}
