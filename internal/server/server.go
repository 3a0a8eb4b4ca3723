// Package server exposes the engine over HTTP. Handlers stay thin: decode,
// resolve the caller, delegate to the engine, map faults onto the error
// envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"rewardline/internal/domain"
	"rewardline/internal/engine"
	"rewardline/internal/fault"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_claimed"`
	Message string         `json:"message" example:"actor already holds a slot in this group"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Rewardline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Rewardline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGroups(group, cfg.Engine)
	registerSlots(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps an engine fault onto a transport status. Unknown errors
// never leak detail past the envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return newAPIError(statusForKind(fe.Kind), fe.Code, fe.Message, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindStateConflict:
		return http.StatusConflict
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindTransientStorage:
		return http.StatusServiceUnavailable
	case fault.KindPartialFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-group",
		Method:        http.MethodPost,
		Path:          "/groups",
		Summary:       "Create task group",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGroupRequest `json:"body"`
	}) (*struct {
		Body GroupWithSlotsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, slots, err := e.CreateGroup(ctx, createOptions(input.Body, actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupWithSlotsResponse `json:"body"`
		}{Body: GroupWithSlotsResponse{Group: groupResponse(g), Slots: mapSlots(slots)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/groups",
		Summary:     "List task groups",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GroupResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		groups, err := e.ListGroups(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GroupResponse `json:"body"`
		}{Body: mapGroups(groups)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-group",
		Method:      http.MethodGet,
		Path:        "/groups/{group_id}",
		Summary:     "Get task group",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GroupID string `path:"group_id"`
	}) (*struct {
		Body GroupResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		g, err := e.GetGroup(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupResponse `json:"body"`
		}{Body: groupResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-group-slots",
		Method:      http.MethodGet,
		Path:        "/groups/{group_id}/slots",
		Summary:     "List a group's slots",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GroupID string `path:"group_id"`
	}) (*struct {
		Body []SlotResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		slots, err := e.ListGroupSlots(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SlotResponse `json:"body"`
		}{Body: mapSlots(slots)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-slot",
		Method:      http.MethodPost,
		Path:        "/groups/{group_id}/claim",
		Summary:     "Claim a free slot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		GroupID string `path:"group_id"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slot, err := e.Claim(ctx, input.GroupID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(slot)}, nil
	})
}

func registerSlots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-slot",
		Method:      http.MethodGet,
		Path:        "/slots/{slot_id}",
		Summary:     "Get slot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SlotID string `path:"slot_id"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		slot, err := e.GetSlot(ctx, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-proof",
		Method:      http.MethodPost,
		Path:        "/slots/{slot_id}/submit",
		Summary:     "Submit proof for a claimed slot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SlotID string              `path:"slot_id"`
		Body   domain.ProofPayload `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slot, err := e.SubmitProof(ctx, input.SlotID, actor, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-slot",
		Method:      http.MethodPost,
		Path:        "/slots/{slot_id}/approve",
		Summary:     "Approve a submitted slot",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SlotID string         `path:"slot_id"`
		Body   ApproveRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slot, err := e.Approve(ctx, input.SlotID, actor, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-slot",
		Method:      http.MethodPost,
		Path:        "/slots/{slot_id}/reject",
		Summary:     "Reject a submitted slot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SlotID string        `path:"slot_id"`
		Body   RejectRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slot, err := e.Reject(ctx, input.SlotID, actor, input.Body.Reason, input.Body.Option)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-transfer",
		Method:      http.MethodPost,
		Path:        "/slots/{slot_id}/transfer-ack",
		Summary:     "Set or clear the reward-transferred marker",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SlotID string             `path:"slot_id"`
		Body   TransferAckRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slot, err := e.AcknowledgeTransfer(ctx, input.SlotID, actor, input.Body.Acknowledged)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "slot-timeline",
		Method:      http.MethodGet,
		Path:        "/slots/{slot_id}/timeline",
		Summary:     "Slot timeline, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SlotID string `path:"slot_id"`
	}) (*struct {
		Body []TimelineEntryResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		entries, err := e.SlotTimeline(ctx, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TimelineEntryResponse `json:"body"`
		}{Body: mapTimeline(entries)}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Rewardline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
