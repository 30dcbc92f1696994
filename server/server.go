// Package server is the single-user web front end: upload one document, then ask questions about it.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/rag"
)

const maxUploadBytes = 32 << 20

//go:embed static/index.html
var indexHTML []byte

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type AskRequest struct {
	Question string `json:"question"`
}

type ChunkResponse struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
}

type AskResponse struct {
	Answer string          `json:"answer"`
	Chunks []ChunkResponse `json:"chunks"`
}

type UploadResponse struct {
	Source    string `json:"source"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Stored    int    `json:"stored"`
	Skipped   int    `json:"skipped"`
}

// session is the per-process UI state. Only one document session exists at a time.
type session struct {
	ready  bool
	source string
}

type Server struct {
	config   *config.Config
	pipeline *rag.Pipeline

	// work serializes ingestion and questions.
	work sync.Mutex

	mu      sync.Mutex
	session session
}

func New(cfg *config.Config, pipeline *rag.Pipeline) *Server {
	return &Server{config: cfg, pipeline: pipeline}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) current() session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file: %v", err))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !loader.IsSupported(name) {
		typeErr := &loader.UnsupportedTypeError{Ext: strings.ToLower(filepath.Ext(name))}
		writeError(w, http.StatusBadRequest, typeErr.Error())
		return
	}

	// The temp copy keeps the original extension for the loader.
	dir, err := os.MkdirTemp("", "docqa-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		logger.Error("Failed to save upload %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	s.work.Lock()
	report, err := s.pipeline.IngestAs(r.Context(), path, name, nil)
	s.work.Unlock()
	if err != nil {
		logger.Error("Failed to ingest %s: %v", name, err)
		status := http.StatusInternalServerError
		if errors.Is(err, loader.ErrUnsupportedType) || errors.Is(err, loader.ErrEmptyDocument) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	s.mu.Lock()
	s.session = session{ready: true, source: name}
	s.mu.Unlock()

	logger.Info("Document %s ready: %d chunks", name, report.Chunks)
	writeJSON(w, http.StatusOK, UploadResponse{
		Source:    name,
		Documents: report.Documents,
		Chunks:    report.Chunks,
		Stored:    report.Stored,
		Skipped:   report.Skipped,
	})
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is empty")
		return
	}
	if !s.current().ready {
		writeError(w, http.StatusConflict, "upload a document first")
		return
	}

	turn, err := s.ask(r.Context(), req.Question, nil)
	if err != nil {
		logger.Error("Failed to answer %q: %v", req.Question, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{
		Answer: turn.Answer,
		Chunks: toChunkResponses(turn.Chunks),
	})
}

func (s *Server) ask(ctx context.Context, question string, onChunk func(string)) (models.Turn, error) {
	s.work.Lock()
	defer s.work.Unlock()

	if onChunk != nil {
		return s.pipeline.AskStream(ctx, question, s.config.Retrieval.TopK, onChunk)
	}
	return s.pipeline.Ask(ctx, question, s.config.Retrieval.TopK)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("Error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, "error", "invalid message")
			continue
		}

		// Handled inline: a connection supports one concurrent writer.
		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "ask" {
		s.sendMessage(conn, "error", fmt.Sprintf("unknown message type: %s", msg.Type))
		return
	}

	query := strings.TrimSpace(msg.Content)
	if query == "" {
		s.sendMessage(conn, "error", "question is empty")
		return
	}
	if !s.current().ready {
		s.sendMessage(conn, "error", "upload a document first")
		return
	}

	s.sendMessage(conn, "status", "Searching the document...")

	var onChunk func(string)
	if s.config.UI.Streaming {
		onChunk = func(chunk string) {
			s.sendMessage(conn, "stream", chunk)
		}
	}

	turn, err := s.ask(ctx, query, onChunk)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
		return
	}

	if err := conn.WriteJSON(Message{
		Type:    "response",
		Content: turn.Answer,
		Data:    toChunkResponses(turn.Chunks),
	}); err != nil {
		logger.Error("Error sending message: %v", err)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		logger.Error("Error sending message: %v", err)
	}
}

func toChunkResponses(chunks []models.Chunk) []ChunkResponse {
	out := make([]ChunkResponse, len(chunks))
	for i, c := range chunks {
		out[i] = ChunkResponse{Content: c.Content, Source: c.Source(), Score: c.Score}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
