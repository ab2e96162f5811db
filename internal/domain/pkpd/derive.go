package pkpd

// referenceAge is the age the covariate models are centred on.
const referenceAge = 50.0

// DeriveParameters individualizes the PK constants and PD curve of the
// patient's model variant.
func DeriveParameters(p Patient) (DerivedParameters, error) {
	def, err := LookupModel(p.Model)
	if err != nil {
		return DerivedParameters{}, err
	}
	pk, pd := def.PK, def.PD

	ageTerm := p.Age - referenceAge

	gamma := pd.Theta3 + ageTerm*pd.Theta6
	if pd.Theta7 != nil {
		gamma += float64(p.Sex) * *pd.Theta7
	}

	ke0 := pd.Theta4
	if pd.Theta8 != nil {
		ke0 += ageTerm * *pd.Theta8
	}

	return DerivedParameters{
		PK: PKParameters{
			V1:  pk.V1PerBW * p.Weight,
			K10: pk.K10,
			K12: pk.K12,
			K13: pk.K13,
			K21: pk.K21,
			K31: pk.K31,
		},
		PD: PDParameters{
			Ke0:   ke0,
			Ce50:  pd.Theta2 + ageTerm*pd.Theta5,
			Gamma: gamma,
			E0:    100,
			Emax:  0,
		},
	}, nil
}
