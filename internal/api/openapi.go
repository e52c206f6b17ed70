package api

import "net/http"

// openAPIDoc describes the public surface. It is static: the routes do not
// change at runtime.
var openAPIDoc = map[string]any{
	"openapi": "3.1.0",
	"info": map[string]any{
		"title":       "Sonargate",
		"version":     "1.0",
		"description": "Upload a zip of source code and receive the SonarQube vulnerabilities and security hotspots found in it.",
	},
	"paths": map[string]any{
		"/analyze": map[string]any{
			"post": map[string]any{
				"operationId": "analyze",
				"summary":     "Scan an uploaded zip archive",
				"security":    []any{map[string]any{"BearerAuth": []string{}}},
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"multipart/form-data": map[string]any{
							"schema": map[string]any{
								"type":     "object",
								"required": []string{"file"},
								"properties": map[string]any{
									"file": map[string]any{"type": "string", "format": "binary"},
								},
							},
						},
					},
				},
				"responses": map[string]any{
					"200": jsonResponse("Analysis complete", "#/components/schemas/AnalyzeResponse"),
					"400": jsonResponse("Missing field or unusable archive", "#/components/schemas/Error"),
					"401": jsonResponse("Missing or invalid API key", "#/components/schemas/Error"),
					"429": map[string]any{"description": "Rate limited"},
					"500": jsonResponse("Scanner or internal failure", "#/components/schemas/Error"),
					"502": jsonResponse("SonarQube API failure", "#/components/schemas/Error"),
				},
			},
		},
		"/jobs": map[string]any{
			"get": map[string]any{
				"operationId": "listJobs",
				"summary":     "Recent analysis jobs, newest first",
				"security":    []any{map[string]any{"BearerAuth": []string{}}},
				"parameters": []any{map[string]any{
					"name": "limit", "in": "query",
					"schema": map[string]any{"type": "integer", "minimum": 1},
				}},
				"responses": map[string]any{
					"200": map[string]any{"description": "Job list"},
				},
			},
		},
		"/jobs/{jobID}": map[string]any{
			"get": map[string]any{
				"operationId": "getJob",
				"summary":     "One analysis job",
				"security":    []any{map[string]any{"BearerAuth": []string{}}},
				"parameters": []any{map[string]any{
					"name": "jobID", "in": "path", "required": true,
					"schema": map[string]any{"type": "string"},
				}},
				"responses": map[string]any{
					"200": map[string]any{"description": "Job"},
					"404": jsonResponse("Unknown job", "#/components/schemas/Error"),
				},
			},
		},
		"/events": map[string]any{
			"get": map[string]any{
				"operationId": "events",
				"summary":     "Server-sent stream of analysis lifecycle events",
				"security":    []any{map[string]any{"BearerAuth": []string{}}},
				"responses": map[string]any{
					"200": map[string]any{"description": "text/event-stream"},
				},
			},
		},
		"/webhooks/sonarqube": map[string]any{
			"post": map[string]any{
				"operationId": "sonarqubeWebhook",
				"summary":     "SonarQube completion webhook, signed with X-Sonar-Webhook-HMAC-SHA256",
				"responses": map[string]any{
					"200": map[string]any{"description": "Delivery accepted"},
					"403": map[string]any{"description": "Signature missing or invalid"},
					"404": map[string]any{"description": "Receiver not configured"},
				},
			},
		},
		"/health":  map[string]any{"get": map[string]any{"operationId": "health", "responses": map[string]any{"200": map[string]any{"description": "ok"}}}},
		"/readyz":  map[string]any{"get": map[string]any{"operationId": "readyz", "responses": map[string]any{"200": map[string]any{"description": "Engine reachable"}, "503": map[string]any{"description": "Engine unavailable"}}}},
		"/metrics": map[string]any{"get": map[string]any{"operationId": "metrics", "responses": map[string]any{"200": map[string]any{"description": "Prometheus exposition"}}}},
	},
	"components": map[string]any{
		"securitySchemes": map[string]any{
			"BearerAuth": map[string]any{
				"type":   "http",
				"scheme": "bearer",
			},
		},
		"schemas": map[string]any{
			"Error": map[string]any{
				"type":     "object",
				"required": []string{"error"},
				"properties": map[string]any{
					"error": map[string]any{"type": "string"},
				},
			},
			"Issue": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":       map[string]any{"type": "string"},
					"rule":      map[string]any{"type": "string"},
					"severity":  map[string]any{"type": "string"},
					"component": map[string]any{"type": "string"},
					"line":      map[string]any{"type": "integer"},
					"message":   map[string]any{"type": "string"},
					"type":      map[string]any{"type": "string"},
				},
			},
			"AnalyzeResponse": map[string]any{
				"type":     "object",
				"required": []string{"vulnerabilities", "total_count"},
				"properties": map[string]any{
					"vulnerabilities": map[string]any{
						"type":  "array",
						"items": map[string]any{"$ref": "#/components/schemas/Issue"},
					},
					"total_count": map[string]any{"type": "integer"},
				},
			},
		},
	},
}

func jsonResponse(description, ref string) map[string]any {
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": ref},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, openAPIDoc)
}
