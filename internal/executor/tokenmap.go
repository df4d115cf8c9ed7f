package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	xerrors "AgentFi-Client/internal/errors"
)

// defaultTokenMap 是链上 token id 到后端 agent id 的静态映射。
// 动态刷新尚未完成或失败时一律回退到这里。
var defaultTokenMap = map[uint64]string{
	0: "portfolio_analyzer",
	1: "yield_optimizer",
	2: "risk_scorer",
}

// TokenMap 维护 token id 到后端服务标识的映射缓存。
// 缓存由显式的 Refresh 驱动，带有明确的"尚未加载"状态，
// 不存在隐式的跨次运行陈旧数据。
type TokenMap struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
	static     map[uint64]string
	dynamic    map[uint64]string
	loaded     bool
}

// NewTokenMap 构造映射缓存。baseURL 为空时只使用静态表。
func NewTokenMap(baseURL string, httpClient *http.Client) *TokenMap {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	static := make(map[uint64]string, len(defaultTokenMap))
	for id, agent := range defaultTokenMap {
		static[id] = agent
	}
	return &TokenMap{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		static:     static,
	}
}

// Resolve 将 token id 解析为后端 agent id。
// 动态表加载后优先生效；解析不到时返回 CONFIGURATION_MISSING，
// 这个错误会阻止运行进入支付阶段。
func (m *TokenMap) Resolve(tokenID uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loaded {
		if agent, ok := m.dynamic[tokenID]; ok {
			return agent, nil
		}
	}
	if agent, ok := m.static[tokenID]; ok {
		return agent, nil
	}
	return "", xerrors.New(xerrors.CodeConfigurationMissing,
		fmt.Sprintf("token %d 没有对应的后端服务", tokenID))
}

// Loaded 报告动态表是否已经加载成功过。
func (m *TokenMap) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Refresh 拉取后端的最新映射表。失败不致命：
// 调用方记录日志后继续使用静态表即可。
func (m *TokenMap) Refresh(ctx context.Context) error {
	if m.baseURL == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置执行后端地址")
	}
	endpoint := m.baseURL + "/agents/token-map"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构造映射刷新请求失败: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("拉取映射表失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("映射表接口返回状态 %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取映射表失败: %w", err)
	}
	var table map[string]string
	if err := json.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("解析映射表失败: %w", err)
	}

	dynamic := make(map[uint64]string, len(table))
	for key, agent := range table {
		id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
		if err != nil || strings.TrimSpace(agent) == "" {
			continue
		}
		dynamic[id] = agent
	}
	if len(dynamic) == 0 {
		return fmt.Errorf("映射表为空")
	}

	m.mu.Lock()
	m.dynamic = dynamic
	m.loaded = true
	m.mu.Unlock()
	return nil
}
