// Package docs holds the OpenAPI document served at /swagger. Regenerate
// with `go generate ./cmd/settlement` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}},
        "/api/v1/payments": {
            "get": {"tags": ["payments"], "summary": "List transactions", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["payments"], "summary": "Initiate a payment", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "502": {"description": "Bad Gateway"}}}
        },
        "/api/v1/payments/methods": {"get": {"tags": ["payments"], "summary": "Supported payment methods", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/payments/refunds": {"post": {"tags": ["payments"], "summary": "Refund a completed payment", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/payments/{id}": {"get": {"tags": ["payments"], "summary": "Get a transaction", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/v1/investments": {
            "get": {"tags": ["investments"], "summary": "List investments", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["investments"], "summary": "Create an investment", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/investments/{id}": {"get": {"tags": ["investments"], "summary": "Get an investment", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/v1/investments/{id}/cancel": {"post": {"tags": ["investments"], "summary": "Cancel an investment", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}},
        "/api/v1/listings": {
            "get": {"tags": ["marketplace"], "summary": "List marketplace listings", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["marketplace"], "summary": "List shares for resale", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/api/v1/listings/fee": {"get": {"tags": ["marketplace"], "summary": "Seller fee quote", "parameters": [{"type": "string", "name": "total", "in": "query", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/listings/{id}": {"get": {"tags": ["marketplace"], "summary": "Get a listing", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/listings/{id}/buy": {"post": {"tags": ["marketplace"], "summary": "Buy a listing", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
        "/api/v1/listings/{id}/cancel": {"post": {"tags": ["marketplace"], "summary": "Cancel a listing", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/callbacks/mpesa": {"post": {"tags": ["callbacks"], "summary": "M-Pesa STK push result", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/callbacks/stripe": {"post": {"tags": ["callbacks"], "summary": "Stripe webhook", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/api/v1/callbacks/generic/{provider}": {"post": {"tags": ["callbacks"], "summary": "Bank or escrow partner webhook", "parameters": [{"type": "string", "name": "provider", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/ops/switches": {"get": {"tags": ["ops"], "summary": "List feature switches", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/ops/switches/{name}": {"put": {"tags": ["ops"], "summary": "Turn a feature switch on or off", "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/v1/ops/dead-letters": {"get": {"tags": ["ops"], "summary": "List dead-lettered events", "responses": {"200": {"description": "OK"}}}},
        "/ws/events": {"get": {"tags": ["stream"], "summary": "Live investment and listing events over websocket", "responses": {"101": {"description": "Switching Protocols"}, "503": {"description": "Service Unavailable"}}}}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Fundflow Settlement API",
	Description:      "Payments, investments, campaign capacity and share resale.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
