// Package openapi builds the OpenAPI 3.1 document describing the keygate
// HTTP API.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Options controls the generated document.
type Options struct {
	BaseURL      string
	Version      string
	APIKeyHeader string
	CookieName   string
}

// Generate returns the OpenAPI document for the keygate API.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.CookieName == "" {
		opts.CookieName = "pb_auth"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "Per-user API key management behind a session gate.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: opts.APIKeyHeader,
			},
		},
		"sessionCookie": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "cookie",
				Name: opts.CookieName,
			},
		},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	addAPIKeyPaths(doc)
	addSessionPaths(doc)
	addHealthPaths(doc)

	return doc
}

func addAPIKeyPaths(doc *openapi3.T) {
	bearer := &openapi3.SecurityRequirements{{"bearerAuth": {}}}

	createBody := openapi3.NewRequestBody().
		WithDescription("Label for the new key").
		WithRequired(true).
		WithJSONSchemaRef(ref("CreateKeyRequest"))

	doc.Paths.Set("/api-keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "List the caller's active API keys",
			Description: "Always answers 200. Unauthenticated callers receive an empty array.",
			OperationID: "listAPIKeys",
			Security:    bearer,
			Responses: newResponses("200", "Key metadata, newest first", &openapi3.SchemaRef{
				Value: openapi3.NewArraySchema().WithItems(ref("KeySummary").Value),
			}),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Create an API key",
			Description: "The plaintext key is returned in this response only.",
			OperationID: "createAPIKey",
			Security:    bearer,
			RequestBody: &openapi3.RequestBodyRef{Value: createBody},
			Responses:   newResponses("200", "The new key", ref("NewKey"), "400", "401", "500", "503"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Revoke an API key",
			OperationID: "revokeAPIKey",
			Security:    bearer,
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("id").
						WithDescription("ID of the key to revoke").
						WithRequired(true).
						WithSchema(openapi3.NewStringSchema()),
				},
			},
			Responses: newResponses("200", "Key revoked", ref("SuccessResponse"), "400", "401", "403", "404", "503"),
		},
	})

	doc.Paths.Set("/api-keys/self", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Describe the presented API key",
			OperationID: "getCurrentAPIKey",
			Security:    &openapi3.SecurityRequirements{{"apiKey": {}}},
			Responses:   newResponses("200", "The verified key", ref("APIKey"), "401", "503"),
		},
	})
}

func addSessionPaths(doc *openapi3.T) {
	noAuth := &openapi3.SecurityRequirements{}

	loginBody := openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchemaRef(ref("LoginRequest"))

	redirectDesc := "Cookie cleared; redirect to the login page"
	logoutResponses := openapi3.NewResponses()
	logoutResponses.Set("303", &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &redirectDesc},
	})

	doc.Paths.Set("/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Log in with email and password",
			Description: "Sets the session cookie on success.",
			OperationID: "login",
			Security:    noAuth,
			RequestBody: &openapi3.RequestBodyRef{Value: loginBody},
			Responses:   newResponses("200", "Session established", ref("LoginResponse"), "400", "500", "503"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Log out",
			OperationID: "logout",
			Security:    &openapi3.SecurityRequirements{{"sessionCookie": {}}},
			Responses:   logoutResponses,
		},
	})
}

func addHealthPaths(doc *openapi3.T) {
	noAuth := &openapi3.SecurityRequirements{}
	status := &openapi3.SchemaRef{Value: openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema())}

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Security:    noAuth,
			Responses:   newResponses("200", "Process is up", status),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Readiness probe",
			OperationID: "readyz",
			Security:    noAuth,
			Responses:   newResponses("200", "Key store reachable", status, "503"),
		},
	})
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func componentSchemas() openapi3.Schemas {
	str := openapi3.NewStringSchema
	dateTime := func() *openapi3.Schema { return openapi3.NewDateTimeSchema() }
	nullableTime := func() *openapi3.Schema {
		s := openapi3.NewDateTimeSchema()
		s.Type = &openapi3.Types{"string", "null"}
		return s
	}

	return openapi3.Schemas{
		"ErrorResponse": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().WithProperty("error", openapi3.NewObjectSchema().
				WithProperty("code", openapi3.NewInt32Schema()).
				WithProperty("message", str()).
				WithProperty("context", openapi3.NewObjectSchema())),
		},
		"SuccessResponse": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("success", openapi3.NewBoolSchema()).
				WithProperty("message", str()),
		},
		"CreateKeyRequest": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("name", str().WithMinLength(1).WithMaxLength(100)).
				WithRequired([]string{"name"}),
		},
		"NewKey": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("id", str()).
				WithProperty("name", str()).
				WithProperty("key", str().WithPattern("^[0-9a-f]{64}$")).
				WithProperty("createdAt", dateTime()),
		},
		"KeySummary": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("id", str()).
				WithProperty("name", str()).
				WithProperty("created", dateTime()).
				WithProperty("last_used", nullableTime()),
		},
		"APIKey": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("id", str()).
				WithProperty("name", str()).
				WithProperty("owner", str()).
				WithProperty("created", dateTime()).
				WithProperty("last_used", nullableTime()),
		},
		"Principal": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("id", str()).
				WithProperty("email", str()),
		},
		"LoginRequest": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("email", str()).
				WithProperty("password", str().WithFormat("password")).
				WithRequired([]string{"email", "password"}),
		},
		"LoginResponse": &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("success", openapi3.NewBoolSchema()).
				WithProperty("token", str()).
				WithPropertyRef("principal", openapi3.NewSchemaRef("#/components/schemas/Principal", nil)),
		},
	}
}

// ref returns a component reference. Value is filled for callers that need
// the inline schema as well.
func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, componentSchemas()[name].Value)
}

// ─── Response Helpers ───────────────────────────────────────────────────────

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Unauthorized",
	"403": "Forbidden",
	"404": "Not found",
	"500": "Internal server error",
	"503": "Upstream unavailable",
}

// newResponses builds a Responses map with a success response and the listed
// error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	return responses
}
