package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// analysisSchema is the shape every provider answer must have
const analysisSchema = `{
  "type": "object",
  "required": ["extractedMedicines", "confidence"],
  "properties": {
    "extractedMedicines": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "dosage": {"type": ["string", "number", "null"]},
          "frequency": {"type": ["string", "null"]},
          "duration": {"type": ["string", "number", "null"]},
          "confidence": {"type": ["number", "null"], "minimum": 0}
        }
      }
    },
    "patientInfo": {
      "type": ["object", "null"],
      "properties": {
        "name": {"type": ["string", "null"]},
        "age": {"type": ["string", "number", "null"]},
        "date": {"type": ["string", "null"]}
      }
    },
    "doctorInfo": {
      "type": ["object", "null"],
      "properties": {
        "name": {"type": ["string", "null"]},
        "signature": {"type": ["boolean", "null"]}
      }
    },
    "confidence": {"type": "number", "minimum": 0},
    "rawAnalysis": {"type": ["string", "null"]}
  }
}`

var compiledAnalysisSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", strings.NewReader(analysisSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("analysis.json")
})

// flexString accepts strings, numbers and null, so "age": 42 still parses
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

type aiMedicine struct {
	Name       string     `json:"name"`
	Dosage     flexString `json:"dosage"`
	Frequency  flexString `json:"frequency"`
	Duration   flexString `json:"duration"`
	Confidence *float64   `json:"confidence"`
}

type aiResponse struct {
	ExtractedMedicines []aiMedicine `json:"extractedMedicines"`
	PatientInfo        *struct {
		Name flexString `json:"name"`
		Age  flexString `json:"age"`
		Date flexString `json:"date"`
	} `json:"patientInfo"`
	DoctorInfo *struct {
		Name      flexString `json:"name"`
		Signature *bool      `json:"signature"`
	} `json:"doctorInfo"`
	Confidence  float64    `json:"confidence"`
	RawAnalysis flexString `json:"rawAnalysis"`
}

// extractJSONObject strips code fences and returns the text between the
// first { and the last }
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// toPercent converts a 0-1 score to 0-100. Scores above 1 are taken to be
// percentages already.
func toPercent(v float64) float64 {
	if v <= 1 {
		v *= 100
	}
	if v > 100 {
		v = 100
	}
	if v < 0 {
		v = 0
	}
	return v
}

// toUnit converts a score to 0-1
func toUnit(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// parseAnalysisJSON parses and validates a provider answer. Every failure wraps ErrParse.
func parseAnalysisJSON(text, provider string) (*Analysis, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var v any
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %v", ErrParse, err)
	}

	schema, err := compiledAnalysisSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling analysis schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: json does not match schema: %v", ErrParse, err)
	}

	var resp aiResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %v", ErrParse, err)
	}

	analysis := &Analysis{
		Medicines:   make([]Candidate, 0, len(resp.ExtractedMedicines)),
		Confidence:  toUnit(resp.Confidence),
		RawAnalysis: resp.RawAnalysis.String(),
		Provider:    provider,
	}

	for _, m := range resp.ExtractedMedicines {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		// a medicine without its own score inherits the answer's
		confidence := resp.Confidence
		if m.Confidence != nil {
			confidence = *m.Confidence
		}
		analysis.Medicines = append(analysis.Medicines, Candidate{
			Name:           name,
			Dosage:         m.Dosage.String(),
			Frequency:      m.Frequency.String(),
			Duration:       m.Duration.String(),
			Confidence:     toPercent(confidence),
			SourceProvider: provider,
		})
	}

	if resp.PatientInfo != nil {
		analysis.Patient = Patient{
			Name: resp.PatientInfo.Name.String(),
			Age:  resp.PatientInfo.Age.String(),
			Date: resp.PatientInfo.Date.String(),
		}
	}
	if resp.DoctorInfo != nil {
		analysis.Doctor.Name = resp.DoctorInfo.Name.String()
		if resp.DoctorInfo.Signature != nil {
			analysis.Doctor.Signature = *resp.DoctorInfo.Signature
		}
	}

	return analysis, nil
}
