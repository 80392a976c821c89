package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Civic Ops API",
        "description": "Civic issue lifecycle and worker assignment service",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Issues", "description": "Issue lifecycle, timeline and comments"},
        {"name": "Assignments", "description": "Worker assignment and suggestions"},
        {"name": "Workers", "description": "Field worker roster"}
    ],
    "paths": {
        "/issues": {
            "get": {
                "tags": ["Issues"],
                "summary": "List issues",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "priority", "in": "query", "type": "string"},
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "ward", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "sort", "in": "query", "type": "string", "enum": ["date", "priority", "status"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Issues"],
                "summary": "Report a new issue",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportIssueRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"}
                }
            }
        },
        "/issues/export": {
            "get": {
                "tags": ["Issues"],
                "summary": "Export the filtered issue list as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/issues/{id}": {
            "get": {
                "tags": ["Issues"],
                "summary": "Get issue detail with timeline and comments",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/issues/{id}/status": {
            "patch": {
                "tags": ["Issues"],
                "summary": "Change issue status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AdvanceStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Invalid transition or conflict"},
                    "412": {"description": "Assignment required"}
                }
            }
        },
        "/issues/{id}/comments": {
            "post": {
                "tags": ["Issues"],
                "summary": "Add a comment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddCommentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "429": {"description": "Rate limited"}
                }
            }
        },
        "/issues/{id}/assign": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Assign a worker to an issue",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignWorkerRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Worker unavailable or issue already assigned"}
                }
            }
        },
        "/issues/{id}/assignees": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Suggest ranked workers for an issue",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/issues/{id}/assignments": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List an issue's assignment history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/workers": {
            "get": {
                "tags": ["Workers"],
                "summary": "List workers",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "ward", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "post": {
                "tags": ["Workers"],
                "summary": "Register a worker",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateWorkerRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"}
                }
            }
        },
        "/workers/{id}": {
            "get": {
                "tags": ["Workers"],
                "summary": "Get worker detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/workers/{id}/leave": {
            "patch": {
                "tags": ["Workers"],
                "summary": "Toggle worker leave",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetLeaveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/workers/{id}/assignments": {
            "get": {
                "tags": ["Workers"],
                "summary": "List a worker's assignment history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "ReportIssueRequest": {
            "type": "object",
            "required": ["title", "description", "category", "priority", "ward"],
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "category": {"type": "string"},
                "priority": {"type": "string", "enum": ["low", "medium", "high"]},
                "ward": {"type": "string"},
                "location": {
                    "type": "object",
                    "properties": {
                        "lat": {"type": "number"},
                        "lng": {"type": "number"},
                        "address": {"type": "string"},
                        "landmark": {"type": "string"}
                    }
                },
                "reportedBy": {
                    "type": "object",
                    "properties": {
                        "name": {"type": "string"},
                        "phone": {"type": "string"},
                        "email": {"type": "string"}
                    }
                },
                "tags": {"type": "array", "items": {"type": "string"}}
            }
        },
        "AdvanceStatusRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["verified", "assigned", "in-progress", "resolved"]},
                "reason": {"type": "string"}
            }
        },
        "AddCommentRequest": {
            "type": "object",
            "required": ["author", "message"],
            "properties": {
                "author": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "AssignWorkerRequest": {
            "type": "object",
            "required": ["workerId"],
            "properties": {
                "workerId": {"type": "integer"},
                "reassign": {"type": "boolean"}
            }
        },
        "CreateWorkerRequest": {
            "type": "object",
            "required": ["name", "role", "ward"],
            "properties": {
                "name": {"type": "string"},
                "role": {"type": "string"},
                "ward": {"type": "string"},
                "phone": {"type": "string"},
                "email": {"type": "string"},
                "rating": {"type": "number"},
                "specialties": {"type": "array", "items": {"type": "string"}}
            }
        },
        "SetLeaveRequest": {
            "type": "object",
            "properties": {
                "onLeave": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "totalCount": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
