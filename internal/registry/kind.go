// Package registry holds the fixed table of recognized control kinds and the
// per-kind facts the rest of the pipeline dispatches on: value fields,
// bypass and randomize support, and catalog lookup.
package registry

// Kind identifies a recognized control node kind. KindOpaque covers every
// class_type not in the table; such nodes only take part as edge endpoints.
type Kind int

const (
	KindOpaque Kind = iota
	KindDynamic
	KindImage
	KindFloat
	KindInt
	KindSeed
	KindRandomNoise
	KindString
	KindChoice
	KindLora
	KindLoraStack
	KindWanVideoModel
	KindBool
)

// Class types of the recognized control kinds.
const (
	ClassDynamic       = "CozyGenDynamicInput"
	ClassImage         = "CozyGenImageInput"
	ClassFloat         = "CozyGenFloatInput"
	ClassInt           = "CozyGenIntInput"
	ClassSeed          = "CozyGenSeedInput"
	ClassRandomNoise   = "CozyGenRandomNoiseInput"
	ClassString        = "CozyGenStringInput"
	ClassChoice        = "CozyGenChoiceInput"
	ClassLora          = "CozyGenLoraInput"
	ClassLoraStack     = "CozyGenLoraInputMulti"
	ClassWanVideoModel = "CozyGenWanVideoModelSelector"
	ClassBool          = "CozyGenBoolInput"
)

var classByKind = map[Kind]string{
	KindDynamic:       ClassDynamic,
	KindImage:         ClassImage,
	KindFloat:         ClassFloat,
	KindInt:           ClassInt,
	KindSeed:          ClassSeed,
	KindRandomNoise:   ClassRandomNoise,
	KindString:        ClassString,
	KindChoice:        ClassChoice,
	KindLora:          ClassLora,
	KindLoraStack:     ClassLoraStack,
	KindWanVideoModel: ClassWanVideoModel,
	KindBool:          ClassBool,
}

var kindByClass = func() map[string]Kind {
	m := make(map[string]Kind, len(classByKind))
	for k, c := range classByKind {
		m[c] = k
	}
	return m
}()

// KindOf maps a node class_type to its Kind. Unknown types are KindOpaque.
func KindOf(classType string) Kind {
	if k, ok := kindByClass[classType]; ok {
		return k
	}
	return KindOpaque
}

// ClassType returns the class_type for k, or "" for KindOpaque.
func (k Kind) ClassType() string {
	return classByKind[k]
}

// IsControl reports whether k is a recognized control kind.
func (k Kind) IsControl() bool {
	return k != KindOpaque
}

// String returns the class type, or "opaque".
func (k Kind) String() string {
	if c, ok := classByKind[k]; ok {
		return c
	}
	return "opaque"
}

// Kinds returns every control kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindDynamic, KindImage, KindFloat, KindInt, KindSeed, KindRandomNoise,
		KindString, KindChoice, KindLora, KindLoraStack, KindWanVideoModel, KindBool,
	}
}
