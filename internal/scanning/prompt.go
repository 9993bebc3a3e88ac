package scanning

import "fmt"

const responseShape = `{
  "extractedMedicines": [
    {
      "name": "medicine_name",
      "dosage": "dosage_with_unit",
      "frequency": "how_often",
      "duration": "how_long",
      "confidence": 0.95
    }
  ],
  "patientInfo": {
    "name": "patient_name_if_found",
    "age": "age_if_found",
    "date": "date_if_found"
  },
  "doctorInfo": {
    "name": "doctor_name_if_found",
    "signature": true
  },
  "confidence": 0.90,
  "rawAnalysis": "brief_summary"
}`

const geminiPromptTemplate = `Analyze this medical prescription text and extract medicine information in JSON format.

Text: %q

Please extract:
1. Medicine names (brand or generic)
2. Dosages (mg, mcg, ml, etc.)
3. Frequencies (daily, twice daily, BID, TID, etc.)
4. Duration (days, weeks, months, as needed)
5. Patient information if available
6. Doctor information if available

Use null for anything that is not present in the text. Confidence values are between 0 and 1.

Return ONLY a valid JSON object with this structure:
` + responseShape

const groqSystemPrompt = `You are a medical AI assistant specialized in analyzing prescription text.
Extract medicine information accurately and return only valid JSON.`

const groqUserPromptTemplate = `Analyze this prescription text and extract medicine information:

%q

Return ONLY valid JSON with this exact structure (use null for missing values):
` + responseShape

func geminiPrompt(text string) string {
	return fmt.Sprintf(geminiPromptTemplate, text)
}

func groqUserPrompt(text string) string {
	return fmt.Sprintf(groqUserPromptTemplate, text)
}
