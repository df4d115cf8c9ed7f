package executor

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "AgentFi-Client/internal/errors"
)

// Config 描述执行后端的访问方式。
type Config struct {
	BaseURL string
	// Timeout 为零时不限制执行调用的时长，由调用方上下文决定。
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Request 描述一次执行调用。PaymentID 在合规模式下必填，
// 无准入模式下必须为空。
type Request struct {
	TokenID       uint64
	Query         string
	WalletAddress string
	CrossAgent    bool
	Compliant     bool
	PaymentID     *uint64
}

// Result 是执行后端的返回。Text 之外的字段对编排器完全不透明，
// 原样向上层透传。
type Result struct {
	Text             string          `json:"text"`
	HederaProof      json.RawMessage `json:"hedera_proof,omitempty"`
	AFCReward        json.RawMessage `json:"afc_reward,omitempty"`
	CrossAgentReport json.RawMessage `json:"cross_agent,omitempty"`
	Compliance       json.RawMessage `json:"compliance,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type structuredData struct {
	Result           string          `json:"result"`
	HederaProof      json.RawMessage `json:"hedera_proof"`
	AFCReward        json.RawMessage `json:"afc_reward"`
	CrossAgentReport json.RawMessage `json:"cross_agent"`
	Compliance       json.RawMessage `json:"compliance"`
}

// Invoker 调用链下执行服务。支付完成之前不得调用。
type Invoker struct {
	baseURL    string
	httpClient *http.Client
	tokenMap   *TokenMap
	timeout    time.Duration
}

// NewInvoker 构造执行调用器。
func NewInvoker(cfg Config, tokenMap *TokenMap) (*Invoker, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行后端地址")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Invoker{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokenMap:   tokenMap,
		timeout:    cfg.Timeout,
	}, nil
}

// Resolve 把 tokenId 映射为代理标识。编排器在发起支付之前调用，
// 无法解析的 tokenId 必须在资金动用之前被拒绝。
func (i *Invoker) Resolve(tokenID uint64) (string, error) {
	if i == nil || i.tokenMap == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "执行调用器未初始化")
	}
	return i.tokenMap.Resolve(tokenID)
}

// Execute 发起一次执行调用。执行失败不会自动重试：
// 支付已经发生，重试策略必须由用户显式发起新的运行。
func (i *Invoker) Execute(ctx context.Context, req Request) (*Result, error) {
	if i == nil || i.tokenMap == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "执行调用器未初始化")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "查询内容不能为空")
	}

	agentID, err := i.tokenMap.Resolve(req.TokenID)
	if err != nil {
		return nil, err
	}

	var endpoint string
	body := map[string]any{"query": req.Query}
	if req.Compliant {
		if req.PaymentID == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "合规模式必须携带 paymentId")
		}
		endpoint = fmt.Sprintf("%s/agents/%s/execute-compliant", i.baseURL, agentID)
		body["wallet_address"] = req.WalletAddress
		body["adi_payment_id"] = *req.PaymentID
		body["cross_agent"] = req.CrossAgent
	} else {
		if req.PaymentID != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "无准入模式不应携带 paymentId")
		}
		endpoint = fmt.Sprintf("%s/agents/%s/execute", i.baseURL, agentID)
		if req.WalletAddress != "" {
			body["wallet_address"] = req.WalletAddress
		}
		if req.CrossAgent {
			body["cross_agent"] = true
		}
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "序列化执行请求失败")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "构造执行请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeExecutionTimeout, err, "执行调用超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "执行调用失败")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "读取执行响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeExecutionFailed,
			fmt.Sprintf("执行后端返回状态 %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "解析执行响应失败")
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "执行后端返回失败"
		}
		return nil, xerrors.New(xerrors.CodeExecutionFailed, msg)
	}
	return decodeResult(env.Data)
}

func decodeResult(data json.RawMessage) (*Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, xerrors.New(xerrors.CodeExecutionFailed, "执行后端未返回数据")
	}

	// data 可能是纯文本，也可能是带证明/奖励/报告的结构化对象。
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "解析执行结果失败")
		}
		return &Result{Text: text}, nil
	}

	var structured structuredData
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "解析执行结果失败")
	}
	text := structured.Result
	if text == "" {
		text = string(trimmed)
	}
	return &Result{
		Text:             text,
		HederaProof:      structured.HederaProof,
		AFCReward:        structured.AFCReward,
		CrossAgentReport: structured.CrossAgentReport,
		Compliance:       structured.Compliance,
	}, nil
}
