// Package docs holds the OpenAPI 2.0 description served at /swagger/*any.
// Regenerate it from the handler annotations with:
//
//	swag init -g internal/http/router.go -o internal/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "UserID": {"type": "apiKey", "name": "X-User-ID", "in": "header"}
    },
    "security": [{"UserID": []}],
    "paths": {
        "/jobs": {
            "get": {
                "tags": ["Jobs"], "summary": "List tracked jobs", "operationId": "listJobs",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "workType", "in": "query"},
                    {"type": "string", "name": "company", "in": "query"},
                    {"type": "string", "name": "search", "in": "query"},
                    {"type": "string", "name": "appliedAfter", "in": "query"},
                    {"type": "string", "name": "sortBy", "in": "query"},
                    {"type": "string", "name": "sortOrder", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query", "minimum": 1},
                    {"type": "integer", "name": "limit", "in": "query", "minimum": 1, "maximum": 100}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.JobPage"}},
                    "304": {"description": "Not modified"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "tags": ["Jobs"], "summary": "Create a job", "operationId": "createJob",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.JobRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.JobResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/sync": {
            "post": {
                "tags": ["Jobs"], "summary": "Upsert a scraped job", "operationId": "syncJob",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.JobRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.JobResponse"}}}
            }
        },
        "/jobs/bulk-status": {
            "post": {
                "tags": ["Jobs"], "summary": "Set status on several jobs", "operationId": "bulkJobStatus",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BulkStatusRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BulkStatusResponse"}}}
            }
        },
        "/jobs/cache/stats": {
            "get": {"tags": ["Cache"], "summary": "Job cache statistics for the caller", "operationId": "jobCacheStats",
                "responses": {"200": {"description": "OK"}}}
        },
        "/jobs/{id}": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "get": {"tags": ["Jobs"], "summary": "Get a job", "operationId": "getJob",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}},
            "patch": {"tags": ["Jobs"], "summary": "Update a job", "operationId": "updateJob",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.JobResponse"}}}},
            "delete": {"tags": ["Jobs"], "summary": "Delete a job", "operationId": "deleteJob",
                "responses": {"204": {"description": "No content"}}}
        },
        "/groups": {
            "get": {"tags": ["Groups"], "summary": "List the caller's groups", "operationId": "listGroups",
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not modified"}}},
            "post": {"tags": ["Groups"], "summary": "Create a group", "operationId": "createGroup",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"name": {"type": "string"}}}}],
                "responses": {"201": {"description": "Created"}}}
        },
        "/groups/{id}/members": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "post": {"tags": ["Groups"], "summary": "Add a member", "operationId": "addGroupMember",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"user_id": {"type": "string"}}}}],
                "responses": {"204": {"description": "No content"}}}
        },
        "/groups/{id}/messages": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "get": {"tags": ["Messages"], "summary": "Group message history", "operationId": "listMessages",
                "parameters": [
                    {"type": "integer", "name": "limit", "in": "query", "minimum": 1, "maximum": 100},
                    {"type": "string", "name": "before", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Messages"], "summary": "Send a message", "operationId": "sendMessage",
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"content": {"type": "string"}, "kind": {"type": "string"}}}}
                ],
                "responses": {"201": {"description": "Created"}}}
        },
        "/groups/{id}/messages/count": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "get": {"tags": ["Messages"], "summary": "Number of live messages", "operationId": "messageCount",
                "responses": {"200": {"description": "OK"}}}
        },
        "/groups/{id}/cache/stats": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "get": {"tags": ["Cache"], "summary": "Chat cache statistics", "operationId": "groupCacheStats",
                "responses": {"200": {"description": "OK"}}}
        },
        "/messages/{id}": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "get": {"tags": ["Messages"], "summary": "Get a message", "operationId": "getMessage", "responses": {"200": {"description": "OK"}}},
            "patch": {"tags": ["Messages"], "summary": "Edit own message", "operationId": "editMessage",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"content": {"type": "string"}}}}],
                "responses": {"200": {"description": "OK"}}},
            "delete": {"tags": ["Messages"], "summary": "Delete own message", "operationId": "deleteMessage", "responses": {"204": {"description": "No content"}}}
        },
        "/messages/{id}/reactions": {
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "post": {"tags": ["Messages"], "summary": "Toggle a reaction", "operationId": "reactToMessage",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object", "properties": {"emoji": {"type": "string"}}}}],
                "responses": {"200": {"description": "OK"}}}
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.JobRequest": {
            "type": "object",
            "properties": {
                "company": {"type": "string"},
                "position": {"type": "string"},
                "status": {"type": "string"},
                "work_type": {"type": "string"},
                "location": {"type": "string"},
                "source_url": {"type": "string"},
                "salary": {"type": "string"},
                "notes": {"type": "string"},
                "shared_by_id": {"type": "string"},
                "applied_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.JobResponse": {
            "type": "object",
            "properties": {"job": {"type": "object"}}
        },
        "handlers.BulkStatusRequest": {
            "type": "object",
            "required": ["ids", "status"],
            "properties": {
                "ids": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "string"}
            }
        },
        "handlers.BulkStatusResponse": {
            "type": "object",
            "properties": {"updated": {"type": "integer"}}
        },
        "domain.JobPage": {
            "type": "object",
            "properties": {
                "rows": {"type": "array", "items": {"type": "object"}},
                "pagination": {
                    "type": "object",
                    "properties": {
                        "page": {"type": "integer"},
                        "limit": {"type": "integer"},
                        "total": {"type": "integer"},
                        "pages": {"type": "integer"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Job Tracker API",
	Description:      "Tracked job applications and group chat, served through a Redis cache-aside layer.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
