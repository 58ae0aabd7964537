package registry

import (
	"fmt"
	"strings"
)

// Namespace prefixes every class_type that receives the active marker.
const Namespace = "CozyGen"

// Marker and stamp fields written at compile time.
const (
	ActiveField   = "is_cozy"
	RunIDField    = "run_id"
	MetaTextClass = "CozyGenMetaText"
	MetaTextField = "value"
)

// Control node fields shared across kinds.
const (
	FieldParamName   = "param_name"
	FieldPriority    = "priority"
	FieldParamType   = "param_type"
	FieldChoiceType  = "choice_type"
	FieldDefault     = "default_value"
	FieldDefaultPick = "default_choice"
	FieldMin         = "min_value"
	FieldMax         = "max_value"
	FieldNumLoras    = "num_loras"
)

// DefaultPriority sorts controls without a usable priority last.
const DefaultPriority = 999999

// DefaultImageParamName is assigned to image controls that lack a name.
const DefaultImageParamName = "Image Input"

// Randomize bounds used when a node declares none.
const (
	DefaultRandomMin = 0
	DefaultRandomMax = 1000000
	SeedRandomMax    = 1125899906842624
)

// LoRA constants.
const (
	LoraNone      = "None"
	LoraSlots     = 5
	CategoryLoras = "loras"
)

// Dynamic input param_type values.
const (
	ParamString   = "STRING"
	ParamInt      = "INT"
	ParamFloat    = "FLOAT"
	ParamBool     = "BOOLEAN"
	ParamDropdown = "DROPDOWN"
)

var sinkClasses = map[string]bool{
	"CozyGenOutput":                  true,
	"CozyGenVideoOutput":             true,
	"CozyGenVideoPreviewOutput":      true,
	"CozyGenVideoPreviewOutputMulti": true,
	"CozyGenEnd":                     true,
}

// IsSink reports whether classType receives the per-compile run id.
func IsSink(classType string) bool {
	return sinkClasses[classType]
}

// InNamespace reports whether classType receives the active marker.
func InNamespace(classType string) bool {
	return strings.HasPrefix(classType, Namespace)
}

var legacyCategories = map[string]string{
	"clip_name1":   "clip",
	"clip_name2":   "clip",
	"unet_name":    "unet",
	"vae_name":     "vae",
	"sampler_name": "sampler",
	"scheduler":    "scheduler",
}

// LegacyCategory maps a param_name of an untyped dropdown to its catalog.
func LegacyCategory(paramName string) (string, bool) {
	c, ok := legacyCategories[paramName]
	return c, ok
}

// RandomPolicy is the draw policy for randomized controls.
type RandomPolicy int

const (
	RandomNone RandomPolicy = iota
	RandomContinuous
	RandomDiscrete
)

func (p RandomPolicy) String() string {
	switch p {
	case RandomContinuous:
		return "continuous"
	case RandomDiscrete:
		return "discrete"
	default:
		return "none"
	}
}

// CatalogMode says where a kind's choices come from.
type CatalogMode int

const (
	// CatalogNone: the kind never fetches choices.
	CatalogNone CatalogMode = iota
	// CatalogDeclared: category comes from the node (choice_type) or the legacy table.
	CatalogDeclared
	// CatalogFixed: category is fixed by the kind.
	CatalogFixed
)

// Entry is one row of the control table.
type Entry struct {
	Kind        Kind
	ValueFields []string
	Bypass      bool
	Random      RandomPolicy
	RandomMax   int64
	Catalog     CatalogMode
	Category    string
}

// Lookup returns the table row for k. Dynamic inputs resolve their random
// policy and catalog per node, see ParamType handling in Entry methods.
func Lookup(k Kind) Entry {
	switch k {
	case KindDynamic:
		return Entry{Kind: k, ValueFields: []string{FieldDefault}, Bypass: true, Random: RandomDiscrete, RandomMax: DefaultRandomMax, Catalog: CatalogDeclared}
	case KindChoice:
		return Entry{Kind: k, ValueFields: []string{"value"}, Bypass: true, Catalog: CatalogDeclared}
	case KindFloat:
		return Entry{Kind: k, ValueFields: []string{FieldDefault}, Random: RandomContinuous, RandomMax: DefaultRandomMax}
	case KindInt:
		return Entry{Kind: k, ValueFields: []string{FieldDefault}, Random: RandomDiscrete, RandomMax: DefaultRandomMax}
	case KindSeed:
		return Entry{Kind: k, ValueFields: []string{"seed"}, Random: RandomDiscrete, RandomMax: SeedRandomMax}
	case KindRandomNoise:
		return Entry{Kind: k, ValueFields: []string{"noise_seed"}, Random: RandomDiscrete, RandomMax: SeedRandomMax}
	case KindString:
		return Entry{Kind: k, ValueFields: []string{FieldDefault}}
	case KindBool:
		return Entry{Kind: k, ValueFields: []string{"value"}}
	case KindImage:
		return Entry{Kind: k, ValueFields: []string{"image"}}
	case KindLora:
		return Entry{Kind: k, ValueFields: []string{"lora_value", "strength_value"}, Catalog: CatalogFixed, Category: CategoryLoras}
	case KindLoraStack:
		return Entry{Kind: k, ValueFields: loraStackFields(), Catalog: CatalogFixed, Category: CategoryLoras}
	case KindWanVideoModel:
		return Entry{Kind: k, ValueFields: WanVideoFields(), Catalog: CatalogFixed, Category: CategoryWanVideoModels}
	case KindOpaque:
		return Entry{Kind: k}
	}
	panic(fmt.Sprintf("registry: unhandled kind %d", int(k)))
}

// LoraSlotFields returns the name and strength field for slot i.
func LoraSlotFields(i int) (lora, strength string) {
	return fmt.Sprintf("lora_%d", i), fmt.Sprintf("strength_%d", i)
}

func loraStackFields() []string {
	fields := make([]string, 0, 2*LoraSlots+1)
	for i := 0; i < LoraSlots; i++ {
		l, s := LoraSlotFields(i)
		fields = append(fields, l, s)
	}
	return append(fields, FieldNumLoras)
}
