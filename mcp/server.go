package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/tools"
)

// Handler serves an Invoker as a toolbox over HTTP:
//
//	POST /tools/list  -> {"tools": [{name, description, inputSchema}]}
//	POST /tools/call  {name, arguments} -> {"content": [{"type": "text", "text": ...}]}
//
// Unknown tools answer 404 and failed calls 500, both with {"error": ...}.
func Handler(inv tools.Invoker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.Named("toolbox")
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /tools/list", func(w http.ResponseWriter, r *http.Request) {
		defs, err := inv.ListTools(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		infos := make([]ToolInfo, len(defs))
		for i, def := range defs {
			infos[i] = infoFromDefinition(def)
		}
		logger.Info("tools/list", "tools", len(infos))
		writeJSON(w, http.StatusOK, listResult{Tools: infos})
	})

	mux.HandleFunc("POST /tools/call", func(w http.ResponseWriter, r *http.Request) {
		var req CallRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err == nil {
			err = json.Unmarshal(body, &req)
		}
		if err != nil || req.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {name, arguments}"})
			return
		}

		out, err := inv.CallTool(r.Context(), req.Name, req.Arguments)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tools.ErrUnknownTool) {
				status = http.StatusNotFound
			}
			logger.Warn("tools/call failed", "tool", req.Name, "error", err)
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		logger.Info("tools/call", "tool", req.Name)
		writeJSON(w, http.StatusOK, TextResult(out))
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
