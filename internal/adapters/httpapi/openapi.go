package httpapi

import (
	"net/http"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/httpjson"
)

type obj = map[string]any

func ref(name string) obj { return obj{"$ref": "#/components/schemas/" + name} }

func jsonBody(schema obj) obj {
	return obj{"content": obj{"application/json": obj{"schema": schema}}}
}

func jsonOK(schema obj) obj {
	b := jsonBody(schema)
	b["description"] = "OK"
	return b
}

var jsonErr = func() obj {
	b := jsonBody(ref("Error"))
	b["description"] = "Error"
	return b
}()

func arrayOf(name string) obj { return obj{"type": "array", "items": ref(name)} }

func props(p obj, required ...string) obj {
	o := obj{"type": "object", "properties": p}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

var (
	str     = obj{"type": "string"}
	integer = obj{"type": "integer"}
	boolean = obj{"type": "boolean"}
	variant = obj{"type": "string", "enum": []any{"sub", "dub"}}
	dateTim = obj{"type": "string", "format": "date-time"}
)

func commandOp(request string, status string) obj {
	return obj{
		"requestBody": func() obj { b := jsonBody(ref(request)); b["required"] = true; return b }(),
		"responses": obj{
			status: jsonOK(ref("CommandStatus")),
			"400":  jsonErr,
			"500":  jsonErr,
		},
	}
}

func openAPIDocument() obj {
	return obj{
		"openapi": "3.0.3",
		"info":    obj{"title": "hue-downloader API", "version": "v1"},
		"components": obj{
			"schemas": obj{
				"Error": props(obj{"error": str, "code": str}, "error"),
				"DownloadRequest": props(obj{
					"link":       obj{"type": "string", "example": "https://www.miruro.to/watch?id=154587&ep=1"},
					"episodes":   obj{"type": "string", "description": "N ou N-M", "example": "1-4"},
					"dub":        boolean,
					"follow":     boolean,
					"notify":     boolean,
					"subscriber": str,
				}, "link"),
				"FollowRequest": props(obj{"link": str, "dub": boolean, "notify": boolean, "subscriber": str}, "link", "subscriber"),
				"Follow":        props(obj{"subscriber": str, "seriesId": str, "variant": variant, "notify": boolean}),
				"CommandStatus": props(obj{
					"status":  obj{"type": "string", "enum": []any{"queued", "updated", "deleted", "unchanged"}},
					"message": str,
					"job":     ref("Job"),
					"follow":  ref("Follow"),
				}, "status"),
				"Job": props(obj{
					"id":        str,
					"type":      obj{"type": "string", "enum": []any{"download", "follow"}},
					"state":     obj{"type": "string", "enum": []any{"queued", "running", "completed", "failed", "canceled"}},
					"progress":  obj{"type": "number", "format": "double"},
					"createdAt": dateTim,
					"updatedAt": dateTim,
					"params":    obj{"type": "object", "additionalProperties": true},
					"result":    ref("RangeResult"),
					"errorCode": obj{"type": "string", "description": "Nom d'outcome (exhausted_retries, policy_blocked, ...)"},
					"error":     str,
				}, "id", "type", "state", "progress", "createdAt", "updatedAt"),
				"RangeResult": props(obj{
					"seriesId": str,
					"variant":  variant,
					"title":    str,
					"outcome":  str,
					"exitCode": integer,
					"episodes": obj{"type": "array", "items": obj{"type": "object", "additionalProperties": true}},
					"followed": boolean,
				}),
				"Series": props(obj{
					"seriesId":          str,
					"variant":           variant,
					"title":             str,
					"season":            integer,
					"part":              integer,
					"episodesAired":     integer,
					"episodeCount":      integer,
					"isAiring":          boolean,
					"nextEpisodeNumber": integer,
					"nextEpisodeTime":   dateTim,
					"downloadFailed":    boolean,
					"lastChecked":       dateTim,
				}),
				"Episode": props(obj{"season": integer, "number": integer, "title": str, "downloaded": boolean}),
				"Settings": props(obj{
					"outputDir":         str,
					"maxEpisodes":       obj{"type": "integer", "minimum": 1},
					"maxRetries":        obj{"type": "integer", "minimum": 0, "maximum": 10},
					"retryDelaySeconds": obj{"type": "integer", "minimum": 0},
					"preferredServer":   str,
					"banNsfw":           boolean,
					"blockedTags":       obj{"type": "array", "items": str},
					"allowTitles":       obj{"type": "array", "items": str},
					"followBackfill":    boolean,
				}),
			},
		},
		"paths": obj{
			"/api/v1/health":       obj{"get": obj{"responses": obj{"200": obj{"description": "OK"}}}},
			"/api/v1/version":      obj{"get": obj{"responses": obj{"200": obj{"description": "OK"}}}},
			"/api/v1/openapi.json": obj{"get": obj{"responses": obj{"200": obj{"description": "OK"}}}},
			"/api/v1/events": obj{"get": obj{
				"parameters": []any{obj{"name": "topics", "in": "query", "schema": str, "description": "Préfixes séparés par des virgules (job.,follow.,episode.)"}},
				"responses":  obj{"200": obj{"description": "SSE"}},
			}},
			"/api/v1/download": obj{"post": commandOp("DownloadRequest", "202")},
			"/api/v1/follow": obj{
				"post":   commandOp("FollowRequest", "202"),
				"delete": commandOp("FollowRequest", "200"),
			},
			"/api/v1/notify":  obj{"post": commandOp("FollowRequest", "200")},
			"/api/v1/follows": obj{"get": obj{"responses": obj{"200": jsonOK(arrayOf("Follow")), "400": jsonErr}}},
			"/api/v1/series":  obj{"get": obj{"responses": obj{"200": jsonOK(arrayOf("Series")), "500": jsonErr}}},
			"/api/v1/series/{id}": obj{"get": obj{"responses": obj{
				"200": jsonOK(ref("Series")), "404": jsonErr,
			}}},
			"/api/v1/series/{id}/episodes": obj{"get": obj{"responses": obj{
				"200": jsonOK(arrayOf("Episode")), "404": jsonErr,
			}}},
			"/api/v1/jobs":             obj{"get": obj{"responses": obj{"200": jsonOK(arrayOf("Job")), "500": jsonErr}}},
			"/api/v1/jobs/{id}":        obj{"get": obj{"responses": obj{"200": jsonOK(ref("Job")), "404": jsonErr}}},
			"/api/v1/jobs/{id}/cancel": obj{"post": obj{"responses": obj{"200": jsonOK(ref("Job")), "404": jsonErr}}},
			"/api/v1/settings": obj{
				"get": obj{"responses": obj{"200": jsonOK(ref("Settings")), "500": jsonErr}},
				"put": obj{
					"requestBody": jsonBody(ref("Settings")),
					"responses":   obj{"200": jsonOK(ref("Settings")), "400": jsonErr, "500": jsonErr},
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, openAPIDocument())
}
