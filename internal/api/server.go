package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"grid-preload/internal/bootstrap"
	"grid-preload/internal/config"
	"grid-preload/internal/events"
	"grid-preload/internal/grid"
	"grid-preload/internal/logger"
)

// NodeLister はプロセス内のメンバー一覧を返せるエンジン
type NodeLister interface {
	Nodes() []*grid.Node
}

// Server はステータスAPIサーバー
type Server struct {
	addr     string
	engine   *bootstrap.Engine
	gatherer prometheus.Gatherer
	bus      *events.Bus

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server   *http.Server
	listener net.Listener
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string, engine *bootstrap.Engine) *Server {
	return &Server{
		addr:      addr,
		engine:    engine,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// SetGatherer は /metrics で公開するメトリクスを設定する
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

// SetEventBus はWebSocketに中継するイベントバスを設定する
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/members", s.handleMembers)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/presets", s.handlePresets)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start はサーバーを開始し、ctxが終了するまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve は指定したリスナーで待ち受ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = ln
	srv := s.server
	s.mu.Unlock()

	if s.bus != nil {
		go s.forwardEvents(ctx)
	}
	go s.broadcastLoop(ctx)

	logger.Info(s.nodeID(), "API Server starting on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr は待ち受けアドレスを返す。開始前は設定値
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) nodeID() string {
	if s.engine == nil {
		return ""
	}
	return s.engine.Config().NodeID
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	NodeID        string `json:"node_id"`
	Coordinator   bool   `json:"coordinator"`
	Phase         string `json:"phase"`
	Running       bool   `json:"running"`
	Servers       int    `json:"servers"`
	CacheName     string `json:"cache_name"`
	CacheSize     int    `json:"cache_size"`
	Written       int64  `json:"written,omitempty"`
	Converged     bool   `json:"converged"`
	Attempts      int    `json:"verify_attempts,omitempty"`
	LastVerdict   string `json:"last_verdict,omitempty"`
	Error         string `json:"error,omitempty"`
	LoadElapsed   string `json:"load_elapsed,omitempty"`
	VerifyElapsed string `json:"verify_elapsed,omitempty"`
}

func (s *Server) status(ctx context.Context) StatusResponse {
	cfg := s.engine.Config()
	resp := StatusResponse{
		NodeID:      cfg.NodeID,
		Coordinator: cfg.IsCoordinator(),
		Phase:       string(s.engine.Phase()),
		Running:     s.engine.IsRunning(),
		CacheName:   cfg.CacheName,
	}

	if h := s.engine.Handle(); h != nil {
		if n, err := h.ServerCount(ctx); err == nil {
			resp.Servers = n
		}
		if n, err := h.CacheSize(ctx, cfg.CacheName); err == nil {
			resp.CacheSize = n
		}
	}

	if r := s.engine.LastResult(); r != nil && r.Role == bootstrap.RoleCoordinator {
		resp.Written = r.Load.Written
		resp.Converged = r.Verify.Converged
		resp.Attempts = r.Verify.Attempts
		resp.LastVerdict = r.Verify.Last.Verdict()
		if r.Load.Elapsed > 0 {
			resp.LoadElapsed = r.Load.Elapsed.Round(time.Millisecond).String()
		}
		if r.Verify.Elapsed > 0 {
			resp.VerifyElapsed = r.Verify.Elapsed.Round(time.Millisecond).String()
		}
		if r.Err != nil {
			resp.Error = r.Err.Error()
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status(r.Context()))
}

// MemberInfo はメンバー情報
type MemberInfo struct {
	ID           string `json:"id"`
	ConsistentID string `json:"consistent_id"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	Partitions   int    `json:"partitions"`
	Size         int    `json:"size"`
	UsedBytes    int64  `json:"used_bytes"`
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lister, ok := s.engine.Handle().(NodeLister)
	if !ok {
		http.Error(w, "Member listing is not supported by this engine", http.StatusNotImplemented)
		return
	}

	members := []MemberInfo{}
	for _, n := range lister.Nodes() {
		members = append(members, MemberInfo{
			ID:           n.ID(),
			ConsistentID: n.ConsistentID().String(),
			Role:         n.Role().String(),
			Status:       n.Status().String(),
			Partitions:   len(n.Partitions()),
			Size:         n.Size(),
			UsedBytes:    n.UsedBytes(),
		})
	}
	s.writeJSON(w, members)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := s.engine.LastResult()
	if result == nil {
		http.Error(w, "Bootstrap has not finished", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(result.Report()))
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, config.ListPresets())
}

// handleWebSocket はクライアントを登録し、現在のフェーズを最初に送る
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	if ev, ok := s.bus.LastPhase(); ok {
		s.send(ws, eventFrame(ev))
	}

	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

func (s *Server) send(ws *websocket.Conn, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = websocket.Message.Send(ws, string(jsonData))
}

func eventFrame(ev events.Event) map[string]any {
	return map[string]any{
		"type":  "event",
		"event": ev,
	}
}

// forwardEvents はイベントバスのイベントをWebSocketクライアントに中継する
func (s *Server) forwardEvents(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(eventFrame(ev))
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.clientCount() == 0 {
				continue
			}
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(ctx),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(s.nodeID(), "Failed to encode JSON: %v", err)
	}
}
