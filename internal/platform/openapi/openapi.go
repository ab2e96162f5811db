package openapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/pkg/pagination"
)

// Generator builds the OpenAPI 3.0 document for the simulator API.
type Generator struct {
	version string
	baseURL string
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	simulationBody := g.buildRequestBody("SimulationRequest")
	protected := []map[string][]string{{"bearerAuth": {}}}

	paths := map[string]interface{}{
		"/health": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Liveness and cache reachability",
				"operationId": "health",
				"tags":        []string{"System"},
				"security":    []map[string][]string{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Healthy"},
					"503": map[string]interface{}{"description": "Result cache unreachable"},
				},
			},
		},
		"/metrics": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Prometheus metrics",
				"operationId": "metrics",
				"tags":        []string{"System"},
				"security":    []map[string][]string{},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "Text exposition format",
						"content":     map[string]interface{}{"text/plain": map[string]interface{}{}},
					},
				},
			},
		},
		"/api/v1/models": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "List model variants",
				"operationId": "listModels",
				"tags":        []string{"Models"},
				"security":    []map[string][]string{},
				"parameters":  pageParameters(),
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Model catalogue page", pageSchema("#/components/schemas/ModelInfo")),
				},
			},
		},
		"/api/v1/parameters": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Derive individualized parameters",
				"operationId": "deriveParameters",
				"tags":        []string{"Models"},
				"security":    protected,
				"requestBody": g.buildRequestBody("Patient"),
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Derived parameters", ref("ParametersResponse")),
					"400": errorResponse("Malformed patient or unknown model"),
					"422": errorResponse("Patient outside clinical ranges"),
				},
			},
		},
		"/api/v1/validate": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Check a dosing plan against clinical ranges",
				"operationId": "validatePlan",
				"tags":        []string{"Simulations"},
				"security":    protected,
				"requestBody": simulationBody,
				"responses": map[string]interface{}{
					"200": g.buildResponseWithSchema("Validation report", ref("ValidationReport")),
					"400": errorResponse("Malformed request"),
				},
			},
		},
		"/api/v1/simulations": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Run a simulation",
				"operationId": "simulate",
				"tags":        []string{"Simulations"},
				"security":    protected,
				"requestBody": simulationBody,
				"responses":   g.simulationResponses("Simulation result", ref("SimulationResult")),
			},
		},
		"/api/v1/simulations/points": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Run a simulation and page through the minute series",
				"operationId": "simulatePoints",
				"tags":        []string{"Simulations"},
				"security":    protected,
				"parameters":  pageParameters(),
				"requestBody": simulationBody,
				"responses":   g.simulationResponses("Time point page", pageSchema("#/components/schemas/TimePoint")),
			},
		},
		"/api/v1/simulations/export": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Run a simulation and download it",
				"operationId": "exportSimulation",
				"tags":        []string{"Simulations"},
				"security":    protected,
				"parameters": []map[string]interface{}{
					{
						"name": "format", "in": "query",
						"schema": map[string]interface{}{"type": "string", "enum": []string{"csv", "xlsx"}, "default": "csv"},
					},
				},
				"requestBody": simulationBody,
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "Attachment",
						"content": map[string]interface{}{
							"text/csv": map[string]interface{}{},
							"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": map[string]interface{}{},
						},
					},
					"400": errorResponse("Malformed request or unsupported format"),
					"422": errorResponse("Plan outside clinical ranges"),
				},
			},
		},
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Rocuronium NMB Simulator API",
			"version":     g.version,
			"description": "PK/PD simulation of rocuronium neuromuscular blockade",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": buildComponentSchemas(),
		},
	}
}

func (g *Generator) simulationResponses(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"200": g.buildResponseWithSchema(description, schema),
		"400": errorResponse("Malformed request, no dose events or unknown model"),
		"403": errorResponse("Caller lacks a simulation role"),
		"422": errorResponse("Plan outside clinical ranges"),
	}
}

// buildRequestBody creates the OpenAPI requestBody for POST operations.
func (g *Generator) buildRequestBody(schema string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": ref(schema),
			},
		},
	}
}

func (g *Generator) buildResponseWithSchema(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": schema,
			},
		},
	}
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": ref("Errors"),
			},
		},
	}
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func pageParameters() []map[string]interface{} {
	return []map[string]interface{}{
		{"name": "limit", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": pagination.MaxLimit, "default": pagination.DefaultLimit}},
		{"name": "offset", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 0, "default": 0}},
	}
}

func pageSchema(itemRef string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"data":     map[string]interface{}{"type": "array", "items": map[string]string{"$ref": itemRef}},
			"total":    integer(),
			"limit":    integer(),
			"offset":   integer(),
			"has_more": map[string]string{"type": "boolean"},
		},
	}
}

func number() map[string]string  { return map[string]string{"type": "number"} }
func integer() map[string]string { return map[string]string{"type": "integer"} }
func str() map[string]string     { return map[string]string{"type": "string"} }

func bounded(min, max float64) map[string]interface{} {
	return map[string]interface{}{"type": "number", "minimum": min, "maximum": max}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"Errors": object([]string{"errors"}, map[string]interface{}{
			"errors": map[string]interface{}{"type": "array", "items": str()},
		}),
		"Patient": object([]string{"id", "age", "weight", "height", "sex", "model"}, map[string]interface{}{
			"id":               str(),
			"age":              bounded(pkpd.MinAge, pkpd.MaxAge),
			"weight":           bounded(pkpd.MinWeight, pkpd.MaxWeight),
			"height":           bounded(pkpd.MinHeight, pkpd.MaxHeight),
			"sex":              map[string]interface{}{"type": "string", "enum": []string{"male", "female"}},
			"model":            map[string]interface{}{"type": "string", "enum": pkpd.VariantNames()},
			"anesthesia_start": map[string]string{"type": "string", "format": "date-time"},
		}),
		"DoseEvent": object([]string{"time_min"}, map[string]interface{}{
			"time_min":              bounded(pkpd.MinDoseTime, pkpd.MaxDoseTime),
			"bolus_mg":              bounded(pkpd.MinBolus, pkpd.MaxBolus),
			"continuous_mcg_kg_min": bounded(pkpd.MinContinuousRate, pkpd.MaxContinuousRate),
		}),
		"SimulationRequest": object([]string{"patient", "dose_events"}, map[string]interface{}{
			"patient":      ref("Patient"),
			"dose_events":  map[string]interface{}{"type": "array", "items": ref("DoseEvent")},
			"duration_min": number(),
		}),
		"TimePoint": object(nil, map[string]interface{}{
			"minute":                    integer(),
			"dose_event":                ref("DoseEvent"),
			"plasma_concentration":      number(),
			"effect_site_concentration": number(),
			"tof_ratio":                 number(),
		}),
		"DerivedParameters": object(nil, map[string]interface{}{
			"pk": object(nil, map[string]interface{}{
				"v1": number(), "k10": number(), "k12": number(), "k13": number(), "k21": number(), "k31": number(),
			}),
			"pd": object(nil, map[string]interface{}{
				"ke0": number(), "ce50": number(), "gamma": number(), "e0": number(), "emax": number(),
			}),
		}),
		"SimulationResult": object(nil, map[string]interface{}{
			"id":                            map[string]string{"type": "string", "format": "uuid"},
			"time_points":                   map[string]interface{}{"type": "array", "items": ref("TimePoint")},
			"patient":                       ref("Patient"),
			"dose_events":                   map[string]interface{}{"type": "array", "items": ref("DoseEvent")},
			"parameters":                    ref("DerivedParameters"),
			"calculation_method":            str(),
			"max_plasma_concentration":      number(),
			"max_effect_site_concentration": number(),
			"diagnostics": map[string]interface{}{"type": "array", "items": object(nil, map[string]interface{}{
				"code": str(), "message": str(),
			})},
			"calculated_at": map[string]string{"type": "string", "format": "date-time"},
			"warnings":      map[string]interface{}{"type": "array", "items": str()},
		}),
		"ValidationReport": object([]string{"valid", "errors"}, map[string]interface{}{
			"valid":  map[string]string{"type": "boolean"},
			"errors": map[string]interface{}{"type": "array", "items": str()},
		}),
		"ParametersResponse": object(nil, map[string]interface{}{
			"model":      str(),
			"bmi":        number(),
			"parameters": ref("DerivedParameters"),
			"warnings":   map[string]interface{}{"type": "array", "items": str()},
		}),
		"ModelInfo": object(nil, map[string]interface{}{
			"variant":      str(),
			"display_name": str(),
			"label":        str(),
			"pk":           map[string]string{"type": "object"},
			"pd":           map[string]string{"type": "object"},
		}),
	}
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Rocuronium NMB Simulator API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
