package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// The canned assistant reply. Prose around an XML tool element, with
// multi-byte characters so byte-level chunking splits runes mid-sequence.
const cannedReply = "今日の東京の天気を調べます。\n\n" +
	"<get_weather>\n<location>Tokyo</location>\n<unit>celsius</unit>\n</get_weather>\n\n" +
	"少々お待ちください。"

// ModelsResponse represents the /v1/models API response
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model represents a single model in the API
type Model struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created int64       `json:"created"`
	OwnedBy string      `json:"owned_by"`
	Root    string      `json:"root"`
	Parent  interface{} `json:"parent"`
}

var (
	// isReady tracks if the server has finished "loading"
	isReady atomic.Bool
)

func main() {
	modelName := os.Getenv("MODEL_NAME")
	if modelName == "" {
		modelName = "test-model"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	// CHUNK_BYTES controls how many bytes of the canned reply each SSE
	// chunk carries. Small odd values split tags and multi-byte runes.
	chunkBytes := 7
	if chunkStr := os.Getenv("CHUNK_BYTES"); chunkStr != "" {
		if n, err := strconv.Atoi(chunkStr); err == nil && n > 0 {
			chunkBytes = n
		}
	}

	// STARTUP_DELAY simulates model loading time (in seconds)
	startupDelay := 0
	if delayStr := os.Getenv("STARTUP_DELAY"); delayStr != "" {
		if delay, err := strconv.Atoi(delayStr); err == nil && delay > 0 {
			startupDelay = delay
		}
	}

	addr := fmt.Sprintf(":%s", port)
	log.Printf("Starting LLM dummy server on %s", addr)
	log.Printf("Model: %s, chunk size: %d bytes", modelName, chunkBytes)

	if startupDelay > 0 {
		log.Printf("Simulating model loading with %d second startup delay", startupDelay)
		isReady.Store(false)

		go func() {
			time.Sleep(time.Duration(startupDelay) * time.Second)
			isReady.Store(true)
			log.Printf("Model loaded, server is now ready to accept requests")
		}()
	} else {
		isReady.Store(true)
	}

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/v1/models", modelsHandler(modelName))
	http.HandleFunc("/v1/chat/completions", chatCompletionsHandler(modelName, chunkBytes))

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	if !isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := fmt.Fprintln(w, "Loading"); err != nil {
			log.Printf("Failed to write response: %v", err)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintln(w, "OK"); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func modelsHandler(modelName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		response := ModelsResponse{
			Object: "list",
			Data: []Model{
				{
					ID:      modelName,
					Object:  "model",
					Created: 1700000000,
					OwnedBy: "dummy",
					Root:    modelName,
					Parent:  nil,
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Printf("Failed to encode models response: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

func chatCompletionsHandler(modelName string, chunkBytes int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.Stream {
			streamCompletion(w, modelName, chunkBytes)
			return
		}

		response := map[string]interface{}{
			"id":      "chatcmpl-dummy",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   modelName,
			"choices": []map[string]interface{}{
				{
					"index": 0,
					"message": map[string]string{
						"role":    "assistant",
						"content": cannedReply,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": 42,
				"total_tokens":      52,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Printf("Failed to encode chat completions response: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// streamCompletion replays the canned reply as SSE content deltas of
// chunkBytes each, the way a token-streaming backend would.
func streamCompletion(w http.ResponseWriter, modelName string, chunkBytes int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	created := time.Now().Unix()
	writeChunk := func(delta map[string]interface{}, finishReason interface{}) {
		chunk := map[string]interface{}{
			"id":      "chatcmpl-dummy",
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   modelName,
			"choices": []map[string]interface{}{
				{"index": 0, "delta": delta, "finish_reason": finishReason},
			},
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			log.Printf("Failed to marshal chunk: %v", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	writeChunk(map[string]interface{}{"role": "assistant", "content": ""}, nil)

	// chunks split tags anywhere but never a rune, since each delta has
	// to be a valid JSON string on its own
	for i := 0; i < len(cannedReply); {
		end := i + chunkBytes
		if end >= len(cannedReply) {
			end = len(cannedReply)
		} else {
			for end > i && !utf8.RuneStart(cannedReply[end]) {
				end--
			}
			if end == i {
				_, size := utf8.DecodeRuneInString(cannedReply[i:])
				end = i + size
			}
		}
		writeChunk(map[string]interface{}{"content": cannedReply[i:end]}, nil)
		i = end
	}

	writeChunk(map[string]interface{}{}, "stop")
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
