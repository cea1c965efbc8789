package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider"
)

const maxRunCodeBody = 1 << 20 // 1 MiB of source + stdin is plenty

type runCodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

type runCodeResponse struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Status        string `json:"status"`
}

type apiError struct {
	Message string `json:"message"`
}

// runCodeHandler is the synchronous execution call: submit the body to the
// execution provider, wait for a terminal status, return the decoded
// output. Execution results are private to the caller; nothing here
// touches any room.
func (a *App) runCodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Message: "Method not allowed."})
		return
	}

	var req runCodeRequest
	body := http.MaxBytesReader(w, r.Body, maxRunCodeBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Message: "Malformed request body."})
		return
	}
	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Message: "No code provided."})
		return
	}

	result, err := a.relay.Execute(r.Context(), provider.ExecutionRequest{
		SourceCode: req.Code,
		Language:   req.Language,
		Stdin:      req.Input,
	})
	if err != nil {
		if errors.Is(err, provider.ErrTimeout) {
			writeJSON(w, http.StatusGatewayTimeout, apiError{Message: "Timeout polling for execution results."})
			return
		}
		a.logger.Error("Error running code", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, apiError{Message: "Internal server error during code execution."})
		return
	}

	writeJSON(w, http.StatusOK, runCodeResponse{
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		CompileOutput: result.CompileOutput,
		Status:        result.Status,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
