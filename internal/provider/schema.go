// internal/provider/schema.go
package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

// FieldType enumerates the value kinds an adapter configuration field may
// take. Secrets are strings the config layer should mask in UIs.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldSecret  FieldType = "secret"
	FieldBoolean FieldType = "boolean"
	FieldNumeric FieldType = "numeric"
	FieldEnum    FieldType = "enum"
)

// Field describes one configuration field of a provider kind. The schemas
// are exported so the configuration layer can introspect them when building
// forms.
type Field struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Type     FieldType   `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
	Options  []string    `json:"options,omitempty"`
}

var kindSchemas = map[models.ProviderKind][]Field{
	models.ProviderSES: {
		{Name: "region", Label: "AWS Region", Type: FieldText, Required: true},
		{Name: "access_key_id", Label: "Access Key ID", Type: FieldText, Required: true},
		{Name: "secret_access_key", Label: "Secret Access Key", Type: FieldSecret, Required: true},
		{Name: "from_email", Label: "From Address", Type: FieldText, Required: true},
	},
	models.ProviderSMTP: {
		{Name: "host", Label: "SMTP Host", Type: FieldText, Required: true},
		{Name: "port", Label: "SMTP Port", Type: FieldNumeric, Required: true, Default: 587},
		{Name: "username", Label: "Username", Type: FieldText},
		{Name: "password", Label: "Password", Type: FieldSecret},
		{Name: "use_tls", Label: "Use STARTTLS", Type: FieldBoolean, Default: true},
		{Name: "from_email", Label: "From Address", Type: FieldText, Required: true},
	},
	models.ProviderSendGrid: {
		{Name: "api_key", Label: "API Key", Type: FieldSecret, Required: true},
		{Name: "from_email", Label: "From Address", Type: FieldText, Required: true},
	},
	models.ProviderMailgun: {
		{Name: "api_key", Label: "API Key", Type: FieldSecret, Required: true},
		{Name: "domain", Label: "Sending Domain", Type: FieldText, Required: true},
		{Name: "region", Label: "API Region", Type: FieldEnum, Default: "us", Options: []string{"us", "eu"}},
		{Name: "from_email", Label: "From Address", Type: FieldText, Required: true},
	},
	models.ProviderPostmark: {
		{Name: "server_token", Label: "Server Token", Type: FieldSecret, Required: true},
		{Name: "message_stream", Label: "Message Stream", Type: FieldText, Default: "outbound"},
		{Name: "from_email", Label: "From Address", Type: FieldText, Required: true},
	},
	models.ProviderResend: {
		{Name: "api_key", Label: "API Key", Type: FieldSecret, Required: true},
		{Name: "from_email", Label: "From Address", Type: FieldText, Required: true},
	},
}

// KindSchema returns the configuration field schema of a provider kind.
func KindSchema(kind models.ProviderKind) ([]Field, error) {
	fields, ok := kindSchemas[kind]
	if !ok {
		return nil, errors.NewAdapterConfigInvalidError(string(kind), "unknown provider kind")
	}
	return fields, nil
}

// jsonSchemaFor converts a field list into a JSON Schema document.
func jsonSchemaFor(fields []Field) map[string]interface{} {
	properties := make(map[string]interface{}, len(fields))
	required := []string{}

	for _, f := range fields {
		prop := map[string]interface{}{}
		switch f.Type {
		case FieldBoolean:
			prop["type"] = "boolean"
		case FieldNumeric:
			prop["type"] = "number"
		case FieldEnum:
			prop["type"] = "string"
			opts := make([]interface{}, len(f.Options))
			for i, o := range f.Options {
				opts[i] = o
			}
			prop["enum"] = opts
		default:
			prop["type"] = "string"
			if f.Required {
				prop["minLength"] = 1
			}
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateConfig validates an opaque adapter configuration blob against its
// kind's field schema. The registry refuses to build adapters from blobs
// that fail here, and the configuration layer must call this before marking
// a config active or default.
func ValidateConfig(kind models.ProviderKind, raw json.RawMessage) error {
	fields, err := KindSchema(kind)
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.NewAdapterConfigInvalidError(string(kind), fmt.Sprintf("config is not a JSON object: %v", err))
	}

	schemaLoader := gojsonschema.NewGoLoader(jsonSchemaFor(fields))
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.NewAdapterConfigInvalidError(string(kind), err.Error())
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.NewAdapterConfigInvalidError(string(kind), strings.Join(details, "; "))
	}

	return nil
}

// applyDefaults fills unset optional fields with their schema defaults
// before an adapter decodes the blob.
func applyDefaults(kind models.ProviderKind, doc map[string]interface{}) {
	for _, f := range kindSchemas[kind] {
		if f.Default == nil {
			continue
		}
		if _, ok := doc[f.Name]; !ok {
			doc[f.Name] = f.Default
		}
	}
}
