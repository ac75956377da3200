// Package schema holds the domain -> sub-domain -> field tree that drives
// prompt synthesis, merging and validation, plus the registries that own it
// for the process lifetime.
package schema

import "errors"

// Sentinel errors exposed at the schema boundary.
var (
	ErrDomainNotFound    = errors.New("domain_not_found")
	ErrSubDomainNotFound = errors.New("sub_domain_not_found")
	ErrSchemaEmpty       = errors.New("schema_empty")
	ErrUnknownFunction   = errors.New("unknown_function")
)

// FieldType enumerates the value types a field can carry.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
	TypeBool   FieldType = "bool"
)

// ValidationLevel controls how validation failures are reported.
type ValidationLevel string

const (
	ValidationInfo    ValidationLevel = "info"
	ValidationWarning ValidationLevel = "warning"
	ValidationError   ValidationLevel = "error"
)

// FieldDefinition describes one atomic extractable value.
type FieldDefinition struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Type        FieldType `yaml:"type"`

	Required bool `yaml:"required"`
	Unique   bool `yaml:"unique"`

	Examples               []string        `yaml:"examples,omitempty"`
	ExtractionInstructions string          `yaml:"extraction_instructions,omitempty"`
	Keywords               []string        `yaml:"keywords,omitempty"`
	NegativeKeywords       []string        `yaml:"negative_keywords,omitempty"`
	ExtractionPriority     int             `yaml:"extraction_priority,omitempty"`
	ConfidenceThreshold    float64         `yaml:"confidence_threshold,omitempty"`
	FormattingPattern      string          `yaml:"formatting_pattern,omitempty"`
	FormatFunctionID       string          `yaml:"format_function_id,omitempty"`
	ValidationFunctionID   string          `yaml:"validation_function_id,omitempty"`
	PostProcessFunctionID  string          `yaml:"post_process_function_id,omitempty"`
	RelatedFields          []string        `yaml:"related_fields,omitempty"`
	ValidationLevel        ValidationLevel `yaml:"validation_level,omitempty"`
}

// SubDomainDefinition groups a focused set of fields.
type SubDomainDefinition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Fields      []FieldDefinition `yaml:"fields"`

	ExtractionInstructions        string `yaml:"extraction_instructions,omitempty"`
	Priority                      int    `yaml:"priority,omitempty"`
	AntiHallucinationInstructions string `yaml:"anti_hallucination_instructions,omitempty"`
	PreExtractionFunctionID       string `yaml:"pre_extraction_function_id,omitempty"`
	PostExtractionFunctionID      string `yaml:"post_extraction_function_id,omitempty"`
}

// Field returns the named field, if present.
func (s *SubDomainDefinition) Field(name string) (*FieldDefinition, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// DomainDefinition is a top-level schema.
type DomainDefinition struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	SubDomains  []SubDomainDefinition `yaml:"sub_domains"`

	ExtractionInstructions        string   `yaml:"extraction_instructions,omitempty"`
	AntiHallucinationInstructions string   `yaml:"anti_hallucination_instructions,omitempty"`
	Keywords                      []string `yaml:"keywords,omitempty"`
	ConfidenceThreshold           float64  `yaml:"confidence_threshold,omitempty"`

	// Lifecycle function hooks, resolved in the function registry.
	PreExtractionFunctionID  string `yaml:"pre_extraction_function_id,omitempty"`
	PostExtractionFunctionID string `yaml:"post_extraction_function_id,omitempty"`
	ValidationFunctionID     string `yaml:"validation_function_id,omitempty"`
	MergeFunctionID          string `yaml:"merge_function_id,omitempty"`
}

// SubDomain returns the named sub-domain, if present.
func (d *DomainDefinition) SubDomain(name string) (*SubDomainDefinition, bool) {
	for i := range d.SubDomains {
		if d.SubDomains[i].Name == name {
			return &d.SubDomains[i], true
		}
	}
	return nil, false
}

// SubDomainNames returns the sub-domain names in declaration order.
func (d *DomainDefinition) SubDomainNames() []string {
	names := make([]string, len(d.SubDomains))
	for i := range d.SubDomains {
		names[i] = d.SubDomains[i].Name
	}
	return names
}

// FieldByName searches all sub-domains for the named field.
// Returns the owning sub-domain and the field.
func (d *DomainDefinition) FieldByName(name string) (*SubDomainDefinition, *FieldDefinition, bool) {
	for i := range d.SubDomains {
		if f, ok := d.SubDomains[i].Field(name); ok {
			return &d.SubDomains[i], f, true
		}
	}
	return nil, nil, false
}
