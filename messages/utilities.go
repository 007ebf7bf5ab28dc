package messages

import (
	"encoding/json"
	"fmt"
)

// Utility is a named helper computation the service can run during an
// interaction, discriminated by its "type" field.
type Utility interface {
	UtilityType() string
}

// Classify asks the service to answer a classification question over the
// interaction context.
type Classify struct {
	Type string `json:"type"`
	// The question is a template like the interaction prompt and has
	// access to the context of the stage where it is evaluated.
	ClassificationQuestion string   `json:"classification_question"`
	AdditionalContext      *string  `json:"additional_context,omitempty"`
	Answers                []string `json:"answers"`
}

func (c *Classify) UtilityType() string { return "classify" }

// NewClassify builds a classify utility with its discriminator set.
func NewClassify(question string, answers []string) *Classify {
	return &Classify{Type: "classify", ClassificationQuestion: question, Answers: answers}
}

// Extract asks the service to extract structured data.
type Extract struct {
	Type string `json:"type"`
}

func (e *Extract) UtilityType() string { return "extract" }

// NewExtract builds an extract utility with its discriminator set.
func NewExtract() *Extract {
	return &Extract{Type: "extract"}
}

// utilityTypes is the static registration table from utility type to
// factory.
var utilityTypes = map[string]func() Utility{
	"classify": func() Utility { return &Classify{} },
	"extract":  func() Utility { return &Extract{} },
}

// DecodeUtility picks the concrete utility type from the raw message's
// "type" discriminator.
func DecodeUtility(raw json.RawMessage) (Utility, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode utility: %w", err)
	}
	factory, ok := utilityTypes[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown utility type %q", head.Type)
	}
	u := factory()
	if err := json.Unmarshal(raw, u); err != nil {
		return nil, fmt.Errorf("decode utility: %w", err)
	}
	return u, nil
}

// Configuration is the full interaction configuration.
type Configuration struct {
	Prompt       string             `json:"prompt"`
	Temperature  *float64           `json:"temperature,omitempty"`
	Utilities    map[string]Utility `json:"utilities"`
	SafetyPolicy *string            `json:"safety_policy,omitempty"`
}

// UnmarshalJSON decodes utilities through the registration table so each
// entry comes back as its concrete type.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var aux struct {
		Prompt       string                     `json:"prompt"`
		Temperature  *float64                   `json:"temperature"`
		Utilities    map[string]json.RawMessage `json:"utilities"`
		SafetyPolicy *string                    `json:"safety_policy"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Prompt = aux.Prompt
	c.Temperature = aux.Temperature
	c.SafetyPolicy = aux.SafetyPolicy
	if aux.Utilities == nil {
		c.Utilities = nil
		return nil
	}
	c.Utilities = make(map[string]Utility, len(aux.Utilities))
	for name, raw := range aux.Utilities {
		if string(raw) == "null" {
			c.Utilities[name] = nil
			continue
		}
		u, err := DecodeUtility(raw)
		if err != nil {
			return fmt.Errorf("utility %q: %w", name, err)
		}
		c.Utilities[name] = u
	}
	return nil
}
