package registry

// CategoryWanVideoModels is the catalog for the model-name axis.
const CategoryWanVideoModels = "wanvideo_models"

// WanVideo selector axes.
const (
	AxisModelName     = "model_name"
	AxisBasePrecision = "base_precision"
	AxisQuantization  = "quantization"
	AxisLoadDevice    = "load_device"
)

// Fixed enumerations for the non-catalog axes.
var (
	WanVideoPrecisions = []string{"fp32", "bf16", "fp16", "fp16_fast"}

	WanVideoQuantizations = []string{
		"disabled",
		"fp8_e4m3fn",
		"fp8_e4m3fn_fast",
		"fp8_e4m3fn_scaled",
		"fp8_e4m3fn_scaled_fast",
		"fp8_e5m2",
		"fp8_e5m2_fast",
		"fp8_e5m2_scaled",
		"fp8_e5m2_scaled_fast",
	}

	WanVideoLoadDevices = []string{"main_device", "offload_device"}
)

// Literal fallbacks written at compile time when an axis is empty.
var wanVideoFallbacks = map[string]string{
	AxisModelName:     "none",
	AxisBasePrecision: "bf16",
	AxisQuantization:  "disabled",
	AxisLoadDevice:    "offload_device",
}

// WanVideoFields returns the axes in injection order.
func WanVideoFields() []string {
	return []string{AxisModelName, AxisBasePrecision, AxisQuantization, AxisLoadDevice}
}

// WanVideoFallback returns the literal written when axis has no value.
func WanVideoFallback(axis string) string {
	return wanVideoFallbacks[axis]
}

// WanVideoAxis returns the fixed enumeration for axis, or nil for the
// catalog-backed model axis.
func WanVideoAxis(axis string) []string {
	switch axis {
	case AxisBasePrecision:
		return WanVideoPrecisions
	case AxisQuantization:
		return WanVideoQuantizations
	case AxisLoadDevice:
		return WanVideoLoadDevices
	}
	return nil
}
