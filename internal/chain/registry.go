package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"AgentFi-Client/internal/mode"
)

// Registry manages one client per payment mode, keyed by mode name.
type Registry struct {
	clients map[mode.Name]*Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// 每个模式名称必须对应一个链定义；支付路径由此拿到自己的目标链。
func NewRegistry(ctx context.Context, defs Definitions) (*Registry, error) {
	clients := make(map[mode.Name]*Client)
	for name, def := range defs.Chains {
		modeName, ok := mode.Parse(name)
		if !ok {
			return nil, fmt.Errorf("链配置 %s 不是有效的模式名称", name)
		}
		var chainID *big.Int
		if def.ChainID > 0 {
			chainID = big.NewInt(def.ChainID)
		}
		client, err := NewClient(ctx, Config{
			Name:    name,
			RPCURL:  def.RPCURL,
			ChainID: chainID,
			Notes:   def.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[modeName] = client
	}
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	return &Registry{clients: clients}, nil
}

// NewStaticRegistry wires pre-built clients, used by tests.
func NewStaticRegistry(clients map[mode.Name]*Client) *Registry {
	return &Registry{clients: clients}
}

// ClientFor returns the chain client serving the given mode.
func (r *Registry) ClientFor(name mode.Name) (*Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("模式 %s 未配置链客户端", name)
	}
	return client, nil
}

// Modes returns the list of configured mode names.
func (r *Registry) Modes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
