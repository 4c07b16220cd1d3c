// Package docs is generated by swag init from the handler annotations.
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
        "/signup": {
            "post": {
                "tags": ["auth"],
                "summary": "Sign up",
                "parameters": [{"in": "body", "name": "input", "required": true, "schema": {"$ref": "#/definitions/service.SignupInput"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httpserver.authResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}}
                }
            }
        },
        "/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Login",
                "parameters": [{"in": "body", "name": "input", "required": true, "schema": {"$ref": "#/definitions/service.LoginInput"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpserver.authResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["users"],
                "summary": "List users",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.User"}}}
                }
            }
        },
        "/profile": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["users"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpserver.profileResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["users"],
                "summary": "Update profile",
                "parameters": [{"in": "body", "name": "input", "required": true, "schema": {"$ref": "#/definitions/service.ProfileInput"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpserver.profileResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}}
                }
            }
        },
        "/account": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["users"],
                "summary": "Delete account",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}}
                }
            }
        },
        "/messages": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["messages"],
                "summary": "Send message",
                "parameters": [{"in": "body", "name": "input", "required": true, "schema": {"$ref": "#/definitions/service.SendInput"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httpserver.sendResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}}
                }
            }
        },
        "/messages/{peerId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["messages"],
                "summary": "Conversation history",
                "parameters": [
                    {"type": "string", "name": "peerId", "in": "path", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "name": "before", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpserver.errorResponse"}}
                }
            }
        },
        "/messages/mark-read/{senderId}": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["messages"],
                "summary": "Mark messages read",
                "parameters": [{"type": "string", "name": "senderId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpserver.markReadResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "isOnline": {"type": "boolean"},
                "lastSeen": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "senderId": {"type": "string"},
                "receiverId": {"type": "string"},
                "content": {"type": "string"},
                "createdAt": {"type": "string"},
                "isRead": {"type": "boolean"},
                "readAt": {"type": "string"}
            }
        },
        "httpserver.authResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "token": {"type": "string"},
                "user": {"$ref": "#/definitions/domain.User"}
            }
        },
        "httpserver.errorResponse": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "httpserver.markReadResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "modifiedCount": {"type": "integer"}
            }
        },
        "httpserver.profileResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "user": {"$ref": "#/definitions/domain.User"}
            }
        },
        "httpserver.sendResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "data": {"$ref": "#/definitions/domain.Message"}
            }
        },
        "service.LoginInput": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "service.ProfileInput": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "name": {"type": "string", "maxLength": 50, "minLength": 2}
            }
        },
        "service.SendInput": {
            "type": "object",
            "required": ["content", "receiverId"],
            "properties": {
                "content": {"type": "string", "maxLength": 1000, "minLength": 1},
                "receiverId": {"type": "string"}
            }
        },
        "service.SignupInput": {
            "type": "object",
            "required": ["email", "name", "password"],
            "properties": {
                "email": {"type": "string"},
                "name": {"type": "string", "maxLength": 50, "minLength": 2},
                "password": {"type": "string", "minLength": 6}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:5000",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Chat API",
	Description:      "Direct messaging with live delivery, read receipts and presence.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
