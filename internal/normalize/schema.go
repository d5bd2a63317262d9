package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"
)

// The JSON schema accepts every shape the validation library can still
// normalize (amounts as strings, account numbers as numbers). Anything else is
// rejected here and retried.
func statementSchemaMap() map[string]any {
	nullableString := map[string]any{"type": []any{"string", "null"}}
	amount := map[string]any{"type": []any{"number", "string", "null"}}

	transaction := map[string]any{
		"type":     "object",
		"required": []any{"date", "description"},
		"properties": map[string]any{
			"date":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"debit":       amount,
			"credit":      amount,
			"balance":     amount,
		},
	}
	account := map[string]any{
		"type":     "object",
		"required": []any{"transactions"},
		"properties": map[string]any{
			"bankName":           nullableString,
			"accountHolderName":  nullableString,
			"accountNumber":      map[string]any{"type": []any{"string", "number", "null"}},
			"accountType":        nullableString,
			"currency":           nullableString,
			"statementStartDate": nullableString,
			"statementEndDate":   nullableString,
			"openingBalance":     amount,
			"closingBalance":     amount,
			"transactions":       map[string]any{"type": "array", "items": transaction},
		},
	}
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []any{"accounts"},
		"properties": map[string]any{
			"fileName": nullableString,
			"accounts": map[string]any{"type": "array", "items": account},
		},
	}
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(statementSchemaMap())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("statement.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("statement.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// validateSchema checks a decoded JSON value against the statement schema.
func validateSchema(v any) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// responseSchema is the Gemini structured-output form of the same contract,
// stricter on types because the model can honour it.
func responseSchema() *genai.Schema {
	nullable := genai.Ptr(true)
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString, Nullable: nullable} }
	num := func() *genai.Schema { return &genai.Schema{Type: genai.TypeNumber, Nullable: nullable} }

	transaction := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"date":        {Type: genai.TypeString, Description: "YYYY-MM-DD"},
			"description": {Type: genai.TypeString},
			"debit":       num(),
			"credit":      num(),
			"balance":     num(),
		},
		Required:         []string{"date", "description", "debit", "credit", "balance"},
		PropertyOrdering: []string{"date", "description", "debit", "credit", "balance"},
	}
	accountType := str()
	accountType.Enum = []string{"checking", "savings"}

	account := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"bankName":           str(),
			"accountHolderName":  str(),
			"accountNumber":      str(),
			"accountType":        accountType,
			"currency":           str(),
			"statementStartDate": str(),
			"statementEndDate":   str(),
			"openingBalance":     num(),
			"closingBalance":     num(),
			"transactions":       {Type: genai.TypeArray, Items: transaction},
		},
		Required: []string{"transactions"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"fileName": {Type: genai.TypeString},
			"accounts": {Type: genai.TypeArray, Items: account},
		},
		Required: []string{"fileName", "accounts"},
	}
}
