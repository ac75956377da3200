package schema

// RegisterBuiltins populates the registry with the domains docsieve ships
// with: medical records, legal contracts, and a general fallback. User
// schemas loaded from YAML may overwrite any of these (last-writer-wins).
func RegisterBuiltins(r *Registry) error {
	for _, d := range []DomainDefinition{medicalDomain(), legalDomain(), generalDomain()} {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func medicalDomain() DomainDefinition {
	return DomainDefinition{
		Name:        "medical",
		Description: "Medical records, clinical notes, discharge summaries and laboratory reports",
		Keywords: []string{
			"patient", "diagnosis", "medical record", "clinical", "hospital",
			"medication", "allergy", "treatment", "lab report", "discharge",
		},
		AntiHallucinationInstructions: "Never infer a diagnosis or medication that is not written in the text.",
		SubDomains: []SubDomainDefinition{
			{
				Name:        "patient_info",
				Description: "Patient identity and demographics",
				Priority:    10,
				Fields: []FieldDefinition{
					{
						Name:               "patient_name",
						Description:        "Full name of the patient",
						Type:               TypeString,
						Required:           true,
						Unique:             true,
						ExtractionPriority: 10,
						Keywords:           []string{"patient", "name"},
						Examples:           []string{"John Doe", "Jane A. Smith"},
						FormatFunctionID:   "capitalize_names",
					},
					{
						Name:               "date_of_birth",
						Description:        "Patient date of birth",
						Type:               TypeDate,
						Unique:             true,
						ExtractionPriority: 9,
						Keywords:           []string{"dob", "birth", "born"},
						Examples:           []string{"1980-05-15"},
					},
					{
						Name:        "gender",
						Description: "Patient gender as stated in the record",
						Type:        TypeString,
						Unique:      true,
					},
					{
						Name:        "medical_record_number",
						Description: "Medical record number or patient identifier",
						Type:        TypeString,
						Unique:      true,
						Keywords:    []string{"mrn", "record number"},
					},
				},
			},
			{
				Name:        "diagnoses",
				Description: "Diagnoses and medical conditions",
				Priority:    9,
				Fields: []FieldDefinition{
					{
						Name:               "diagnoses",
						Description:        "All diagnoses and conditions mentioned",
						Type:               TypeList,
						ExtractionPriority: 10,
						Keywords:           []string{"diagnosis", "condition", "disease"},
						Examples:           []string{"Diabetes mellitus Type II", "Hypertension"},
					},
					{
						Name:        "diagnosis_date",
						Description: "Date a diagnosis was made",
						Type:        TypeDate,
						Keywords:    []string{"diagnosed"},
					},
				},
			},
			{
				Name:        "medications",
				Description: "Prescribed and administered medications",
				Fields: []FieldDefinition{
					{
						Name:        "medications",
						Description: "All medications with dosage where stated",
						Type:        TypeList,
						Keywords:    []string{"medication", "prescription", "drug", "dose"},
						Examples:    []string{"Metformin 500mg twice daily"},
					},
				},
			},
			{
				Name:        "allergies",
				Description: "Known allergies and adverse reactions",
				Fields: []FieldDefinition{
					{
						Name:        "allergies",
						Description: "All allergies mentioned",
						Type:        TypeList,
						Keywords:    []string{"allergy", "allergic", "reaction"},
						Examples:    []string{"Penicillin", "Peanuts"},
					},
				},
			},
			{
				Name:        "procedures",
				Description: "Procedures, surgeries and interventions",
				Fields: []FieldDefinition{
					{
						Name:        "procedures",
						Description: "All procedures performed or planned",
						Type:        TypeList,
						Keywords:    []string{"procedure", "surgery", "operation"},
					},
					{
						Name:        "procedure_date",
						Description: "Date of a procedure",
						Type:        TypeDate,
					},
				},
			},
		},
	}
}

func legalDomain() DomainDefinition {
	return DomainDefinition{
		Name:        "legal",
		Description: "Legal contracts, agreements and related documents",
		Keywords: []string{
			"contract", "agreement", "party", "parties", "clause", "effective date",
			"termination", "obligation", "governing law", "legal",
		},
		AntiHallucinationInstructions: "Quote party names and dates exactly as written; never paraphrase legal terms.",
		SubDomains: []SubDomainDefinition{
			{
				Name:        "contract_info",
				Description: "Core contract metadata",
				Priority:    10,
				Fields: []FieldDefinition{
					{
						Name:               "effective_date",
						Description:        "Date the agreement becomes effective",
						Type:               TypeDate,
						Required:           true,
						Unique:             true,
						ExtractionPriority: 10,
						Keywords:           []string{"effective", "commencement"},
						Examples:           []string{"2023-01-15"},
					},
					{
						Name:        "termination_date",
						Description: "Date the agreement terminates or expires",
						Type:        TypeDate,
						Unique:      true,
						Keywords:    []string{"termination", "expiry", "expiration"},
					},
					{
						Name:        "contract_type",
						Description: "Kind of agreement (service, employment, lease, ...)",
						Type:        TypeString,
						Unique:      true,
					},
					{
						Name:        "governing_law",
						Description: "Jurisdiction whose law governs the agreement",
						Type:        TypeString,
						Unique:      true,
						Keywords:    []string{"governing law", "jurisdiction"},
					},
				},
			},
			{
				Name:        "parties",
				Description: "Contracting parties and signatories",
				Priority:    9,
				Fields: []FieldDefinition{
					{
						Name:               "parties",
						Description:        "All named parties to the agreement",
						Type:               TypeList,
						Required:           true,
						ExtractionPriority: 10,
						Keywords:           []string{"party", "parties", "between"},
						Examples:           []string{"ABC Corporation", "XYZ Consulting LLC"},
					},
					{
						Name:        "signatories",
						Description: "Individuals signing on behalf of the parties",
						Type:        TypeList,
						Keywords:    []string{"signed", "signatory"},
					},
				},
			},
			{
				Name:        "obligations",
				Description: "Duties, deliverables and payment terms",
				Fields: []FieldDefinition{
					{
						Name:        "obligations",
						Description: "Obligations and deliverables of each party",
						Type:        TypeList,
						Keywords:    []string{"shall", "obligation", "deliverable"},
					},
					{
						Name:        "payment_terms",
						Description: "Payment amounts, schedules and conditions",
						Type:        TypeString,
						Keywords:    []string{"payment", "fee", "compensation"},
					},
				},
			},
		},
	}
}

func generalDomain() DomainDefinition {
	return DomainDefinition{
		Name:        "general",
		Description: "General document content when no specific domain matches",
		SubDomains: []SubDomainDefinition{
			{
				Name:        "general_content",
				Description: "Free-form content extraction",
				Fields: []FieldDefinition{
					{
						Name:               "content",
						Description:        "The substantive content of the document, condensed",
						Type:               TypeString,
						Required:           true,
						ExtractionPriority: 10,
					},
					{
						Name:        "summary",
						Description: "One-paragraph summary of the document",
						Type:        TypeString,
					},
					{
						Name:        "key_points",
						Description: "Key points or findings as a list",
						Type:        TypeList,
					},
					{
						Name:        "dates_mentioned",
						Description: "All dates mentioned in the document",
						Type:        TypeList,
					},
				},
			},
		},
	}
}
