// Package server 提供 Web 模式：配置读写、服务器列表和通过 WebSocket 推送进度的测速
package server

import (
	"Speedtest_Go/internal/config"
	"Speedtest_Go/internal/engine"
	"Speedtest_Go/internal/locations"
	"Speedtest_Go/internal/output"
	"Speedtest_Go/internal/util"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Server 持有 Web 模式用到的文件路径和已完成的测速结果
type Server struct {
	cfgPath       string
	locationsPath string
	resultDir     string

	mu      sync.Mutex
	reports map[string]output.Report
}

// New 创建 Server。测速结果文件写入 resultDir。
func New(cfgPath, locationsPath, resultDir string) *Server {
	return &Server{
		cfgPath:       cfgPath,
		locationsPath: locationsPath,
		resultDir:     resultDir,
		reports:       make(map[string]output.Report),
	}
}

// Handler 返回配置好全部路由的 http.Handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")
	r.HandleFunc("/api/config", s.handleSaveConfig).Methods("POST")
	r.HandleFunc("/api/regions", s.handleRegions).Methods("GET")
	r.HandleFunc("/api/servers", s.handleServers).Methods("GET")
	r.HandleFunc("/api/results/{id}", s.handleResult).Methods("GET")
	r.HandleFunc("/ws/run", s.handleWebSocket).Methods("GET")
	return r
}

// Start 启动 Web 服务器，阻塞直到服务器退出
func Start(port int, cfgPath, locationsPath, resultDir string) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	util.S.Infow("服务器正在启动", "addr", addr)
	return http.ListenAndServe(addr, New(cfgPath, locationsPath, resultDir).Handler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.LoadConfig(s.cfgPath)
	if err != nil {
		http.Error(w, "Failed to load config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var newConfig map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := saveConfigWithComments(s.cfgPath, newConfig); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	locs, err := locations.LoadLocationsFromFile(s.locationsPath)
	if err != nil {
		http.Error(w, "Failed to load locations", http.StatusInternalServerError)
		return
	}
	regions := locs.Regions()
	sort.Strings(regions)
	writeJSON(w, http.StatusOK, regions)
}

// serverEntry 是 /api/servers 返回的一条记录
type serverEntry struct {
	ID       int     `json:"id"`
	Sponsor  string  `json:"sponsor"`
	Name     string  `json:"name"`
	Country  string  `json:"country"`
	Distance float64 `json:"distance"`
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.LoadConfig(s.cfgPath)
	if err != nil {
		http.Error(w, "Failed to load config", http.StatusInternalServerError)
		return
	}
	endpoints, client, err := engine.ListServers(r.Context(), cfg, s.locationsPath)
	if err != nil {
		util.S.Errorw("获取服务器列表失败", "err", err)
		http.Error(w, fmt.Sprintf("Failed to list servers: %v", err), http.StatusBadGateway)
		return
	}
	entries := make([]serverEntry, 0, len(endpoints))
	for _, ep := range endpoints {
		entries = append(entries, serverEntry{
			ID:       ep.ID,
			Sponsor:  ep.Sponsor,
			Name:     ep.Name,
			Country:  ep.Country,
			Distance: ep.Distance(client.Point),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	report, ok := s.reports[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"result not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// WebSocketMessage 是 WebSocket 上传输的消息
type WebSocketMessage struct {
	Type    string      `json:"type"` // "run", "log", "result" 或 "error"
	Payload interface{} `json:"payload"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.S.Warnw("WebSocket 升级失败", "err", err)
		return
	}
	defer conn.Close()

	// 1. 等待客户端发来的配置覆盖项
	_, msg, err := conn.ReadMessage()
	if err != nil {
		util.S.Warnw("读取 WebSocket 配置失败", "err", err)
		return
	}

	// 先加载文件中的配置作为基础，再用客户端发来的字段覆盖
	runConfig, err := config.LoadConfig(s.cfgPath)
	if err == nil && len(msg) > 0 {
		if err = json.Unmarshal(msg, runConfig); err == nil {
			err = runConfig.Normalize()
		}
	}
	if err != nil {
		conn.WriteJSON(WebSocketMessage{Type: "error", Payload: fmt.Sprintf("Invalid config: %v", err)})
		return
	}

	// 2. 客户端断开时取消测速
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				util.S.Debugw("客户端断开", "err", err)
				return
			}
		}
	}()

	// 3. 所有写操作都经由 writeChan，只有一个 goroutine 写连接
	writeChan := make(chan WebSocketMessage, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for m := range writeChan {
			if failed {
				continue
			}
			if err := conn.WriteJSON(m); err != nil {
				util.S.Warnw("WebSocket 写入失败", "err", err)
				failed = true
				cancel()
			}
		}
	}()
	send := func(m WebSocketMessage) {
		select {
		case <-ctx.Done():
		case writeChan <- m:
		}
	}

	runID := uuid.New().String()
	send(WebSocketMessage{Type: "run", Payload: runID})

	// 4. 运行测速引擎
	suite, err := engine.Run(ctx, runConfig, s.locationsPath, func(message string) {
		send(WebSocketMessage{Type: "log", Payload: message})
	})
	if err != nil {
		util.S.Errorw("引擎运行时出错", "run", runID, "err", err)
		send(WebSocketMessage{Type: "error", Payload: fmt.Sprintf("引擎运行时出错: %v", err)})
	} else {
		report := output.ToReport(suite)
		s.mu.Lock()
		s.reports[runID] = report
		s.mu.Unlock()
		send(WebSocketMessage{Type: "result", Payload: report})

		if s.resultDir != "" {
			jsonFile := filepath.Join(s.resultDir, fmt.Sprintf("web_result_%s.json", runID))
			if err := output.WriteJSONFile(jsonFile, suite); err != nil {
				util.S.Errorw("保存 JSON 文件失败", "err", err)
			} else {
				send(WebSocketMessage{Type: "log", Payload: fmt.Sprintf("结果已保存到 %s", jsonFile)})
			}
		}
	}

	send(WebSocketMessage{Type: "log", Payload: "--- 任务完成 ---"})
	close(writeChan)
	<-writerDone
}

func saveConfigWithComments(cfgPath string, newValues map[string]interface{}) error {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("配置文件不是 YAML 映射")
	}

	// yaml.v3 unmarshals to a document node, we need the content
	docNode := root.Content[0]

	for i := 0; i+1 < len(docNode.Content); i += 2 {
		keyNode := docNode.Content[i]
		valNode := docNode.Content[i+1]

		if newValue, ok := newValues[keyNode.Value]; ok {
			setNodeValue(valNode, newValue)
		}
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return err
	}
	// 写入前确认新内容仍是合法配置
	if _, err := config.Parse(out); err != nil {
		return err
	}

	return os.WriteFile(cfgPath, out, 0644)
}

// setNodeValue updates a yaml.Node's value based on the provided interface{}.
// It handles basic types and slices.
func setNodeValue(node *yaml.Node, value interface{}) {
	if slice, isSlice := value.([]interface{}); isSlice {
		node.Kind = yaml.SequenceNode
		node.Tag = "!!seq"
		node.Style = yaml.FlowStyle
		node.Value = ""
		node.Content = []*yaml.Node{}
		for _, item := range slice {
			itemNode := &yaml.Node{}
			setNodeValue(itemNode, item)
			node.Content = append(node.Content, itemNode)
		}
		return
	}

	s := fmt.Sprintf("%v", value)
	node.Kind = yaml.ScalarNode
	node.Style = 0
	node.Content = nil
	node.Value = s

	// Heuristic to guess the tag
	if s == "true" || s == "false" {
		node.Tag = "!!bool"
	} else if _, err := strToInt(s); err == nil {
		node.Tag = "!!int"
	} else if _, err := strToFloat(s); err == nil {
		node.Tag = "!!float"
	} else {
		node.Tag = "!!str"
	}
}

func strToFloat(s string) (float64, error) {
	var f float64
	return f, json.Unmarshal([]byte(s), &f)
}

func strToInt(s string) (int, error) {
	var i int
	return i, json.Unmarshal([]byte(s), &i)
}
