// Package docs is regenerated by swag init from the handler annotations.
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
        "/ping": {
            "get": {"tags": ["App"], "summary": "Ping the API", "responses": {"200": {"description": "OK"}}}
        },
        "/competitions/{id}/registrations/individual": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Register individually for a competition",
                "parameters": [{"type": "string", "description": "Competition ID", "name": "id", "in": "path", "required": true}],
                "responses": {"201": {"description": "Created"}, "401": {"description": "Unauthorized"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}, "410": {"description": "Gone"}}
            }
        },
        "/competitions/{id}/registrations/team": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Register a team for a competition",
                "parameters": [
                    {"type": "string", "description": "Competition ID", "name": "id", "in": "path", "required": true},
                    {"description": "Team name and member emails", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/registrations.TeamRegistrationRequest"}}
                ],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/competitions/{id}/registrations/export": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "tags": ["Registrations"],
                "summary": "Export the registrations of a competition",
                "parameters": [{"type": "string", "description": "Competition ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}, "403": {"description": "Forbidden"}}
            }
        },
        "/registrations/{id}/invitations": {
            "get": {
                "security": [{"Bearer": []}],
                "tags": ["Invitations"],
                "summary": "Get the invitation status of a registration",
                "parameters": [{"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}
            },
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Invitations"],
                "summary": "Invite members to a team",
                "parameters": [
                    {"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true},
                    {"description": "Invitee emails", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/registrations.InvitationBatchRequest"}}
                ],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/registrations/{id}/complete": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Complete a team registration",
                "parameters": [{"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "409": {"description": "Conflict"}}
            }
        },
        "/registrations/{id}/cancel": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Cancel a registration",
                "parameters": [{"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "410": {"description": "Gone"}}
            }
        },
        "/registrations/{id}/reject": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Reject a registration",
                "parameters": [{"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "409": {"description": "Conflict"}}
            }
        },
        "/registrations/{id}/status": {
            "put": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Update a registration status",
                "parameters": [
                    {"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true},
                    {"description": "New status", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/registrations.UpdateStatusRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}
            }
        },
        "/registrations/{id}/ws": {
            "get": {
                "security": [{"Bearer": []}],
                "tags": ["Registrations"],
                "summary": "Watch a registration",
                "parameters": [
                    {"type": "string", "description": "Registration ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "JWT when the Authorization header cannot be set", "name": "access_token", "in": "query"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}, "403": {"description": "Forbidden"}}
            }
        },
        "/invitations/{token}/respond": {
            "post": {
                "tags": ["Invitations"],
                "summary": "Answer an invitation",
                "parameters": [
                    {"type": "string", "description": "Invitation token", "name": "token", "in": "path", "required": true},
                    {"description": "accept or reject", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/registrations.RespondInvitationRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}, "410": {"description": "Gone"}}
            }
        },
        "/admin/invitations/sweep": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Invitations"],
                "summary": "Expire overdue invitations",
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        }
    },
    "definitions": {
        "registrations.TeamRegistrationRequest": {
            "type": "object",
            "required": ["team_name", "member_emails"],
            "properties": {
                "team_name": {"type": "string"},
                "member_emails": {"type": "array", "items": {"type": "string"}}
            }
        },
        "registrations.InvitationBatchRequest": {
            "type": "object",
            "properties": {"emails": {"type": "array", "items": {"type": "string"}}}
        },
        "registrations.RespondInvitationRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {"action": {"type": "string", "example": "accept"}}
        },
        "registrations.UpdateStatusRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {"status": {"type": "string", "example": "confirmed"}}
        }
    },
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Registrar API",
	Description:      "Competition registrations with team invitations and seat accounting",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
