package pkpd

import "strings"

// ModelVariant names one of the published rocuronium PK/PD models.
type ModelVariant string

const (
	Wierda        ModelVariant = "Wierda"
	Szenohradszky ModelVariant = "Szenohradszky"
	Cooper        ModelVariant = "Cooper"
	AlvarezGomez  ModelVariant = "AlvarezGomez"
	McCoy         ModelVariant = "McCoy"
)

// DisplayName is the human-readable variant name.
func (m ModelVariant) DisplayName() string {
	if m == AlvarezGomez {
		return "Alvarez-Gomez"
	}
	return string(m)
}

// Label is the calculation method attached to results, e.g. "Wierda Model".
func (m ModelVariant) Label() string {
	return m.DisplayName() + " Model"
}

// PKConstants are the population rate constants of a variant. V1PerBW is in L/kg.
type PKConstants struct {
	V1PerBW float64 `json:"v1_per_bw"`
	K10     float64 `json:"k10"`
	K12     float64 `json:"k12"`
	K13     float64 `json:"k13"`
	K21     float64 `json:"k21"`
	K31     float64 `json:"k31"`
}

// PDCoefficients are the covariate model thetas. Theta7 (sex on gamma) and
// Theta8 (age on ke0) are nil when the variant's formula has no such term.
type PDCoefficients struct {
	Theta2 float64  `json:"theta2"`
	Theta3 float64  `json:"theta3"`
	Theta4 float64  `json:"theta4"`
	Theta5 float64  `json:"theta5"`
	Theta6 float64  `json:"theta6"`
	Theta7 *float64 `json:"theta7"`
	Theta8 *float64 `json:"theta8"`
}

// ModelDefinition is one row of the variant table.
type ModelDefinition struct {
	Variant     ModelVariant   `json:"variant"`
	DisplayName string         `json:"display_name"`
	PK          PKConstants    `json:"pk"`
	PD          PDCoefficients `json:"pd"`
}

func theta(v float64) *float64 { return &v }

func cloneTheta(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return theta(*v)
}

// Masui K, et al. J Anesth 32, 709–716 (2018).
var modelTable = map[ModelVariant]ModelDefinition{
	Wierda: {
		PK: PKConstants{V1PerBW: 0.044, K10: 0.1, K12: 0.21, K13: 0.028, K21: 0.13, K31: 0.01},
		PD: PDCoefficients{Theta2: 1.08, Theta3: 6.41, Theta4: 0.100, Theta5: -0.00605, Theta6: -0.0494, Theta7: theta(-1.24), Theta8: theta(-0.00138)},
	},
	Szenohradszky: {
		PK: PKConstants{V1PerBW: 0.0769, K10: 0.0376, K12: 0.1143, K13: 0.0196, K21: 0.1748, K31: 0.0189},
		PD: PDCoefficients{Theta2: 1.44, Theta3: 8.30, Theta4: 0.247, Theta5: -0.00862, Theta6: -0.0981, Theta8: theta(-0.00343)},
	},
	Cooper: {
		PK: PKConstants{V1PerBW: 0.0385, K10: 0.119, K12: 0.259, K13: 0.060, K21: 0.163, K31: 0.012},
		PD: PDCoefficients{Theta2: 0.980, Theta3: 6.18, Theta4: 0.0820, Theta5: -0.00557, Theta6: -0.0341, Theta7: theta(-1.32), Theta8: theta(-0.00109)},
	},
	AlvarezGomez: {
		PK: PKConstants{V1PerBW: 0.057, K10: 0.0952, K12: 0.2807, K13: 0.0322, K21: 0.2149, K31: 0.0166},
		PD: PDCoefficients{Theta2: 0.900, Theta3: 5.99, Theta4: 0.110, Theta5: -0.00539, Theta6: -0.0443, Theta7: theta(-1.14), Theta8: theta(-0.00158)},
	},
	// Two-compartment: no third compartment, no sex or age term on PD.
	McCoy: {
		PK: PKConstants{V1PerBW: 0.0622, K10: 0.0530, K12: 0.0334, K13: 0, K21: 0.0141, K31: 0},
		PD: PDCoefficients{Theta2: 1.08, Theta3: 4.20, Theta4: 0.113, Theta5: -0.00770, Theta6: -0.0283},
	},
}

var variantOrder = []ModelVariant{Wierda, Szenohradszky, Cooper, AlvarezGomez, McCoy}

// LookupModel returns the definition of v. The returned value is a copy.
func LookupModel(v ModelVariant) (ModelDefinition, error) {
	def, ok := modelTable[v]
	if !ok {
		return ModelDefinition{}, &UnknownModelError{Model: string(v)}
	}
	def.Variant = v
	def.DisplayName = v.DisplayName()
	def.PD.Theta7 = cloneTheta(def.PD.Theta7)
	def.PD.Theta8 = cloneTheta(def.PD.Theta8)
	return def, nil
}

// Models lists every known variant in table order.
func Models() []ModelDefinition {
	out := make([]ModelDefinition, 0, len(variantOrder))
	for _, v := range variantOrder {
		def, _ := LookupModel(v)
		out = append(out, def)
	}
	return out
}

// ParseModel resolves a variant by name or display name, ignoring case.
func ParseModel(name string) (ModelVariant, error) {
	for _, v := range variantOrder {
		if strings.EqualFold(name, string(v)) || strings.EqualFold(name, v.DisplayName()) {
			return v, nil
		}
	}
	return "", &UnknownModelError{Model: name}
}

// VariantNames returns the variant identifiers in table order.
func VariantNames() []string {
	names := make([]string, 0, len(variantOrder))
	for _, v := range variantOrder {
		names = append(names, string(v))
	}
	return names
}
