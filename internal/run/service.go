package run

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentFi-Client/internal/activity"
	"AgentFi-Client/internal/chain"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/executor"
	"AgentFi-Client/internal/mode"
	"AgentFi-Client/internal/observability/alerting"
	"AgentFi-Client/internal/payment"
	storage "AgentFi-Client/internal/storage/mysql"
	"AgentFi-Client/pkg/logger"
)

// PathBuilder 按当前模式为一次运行构造支付路径。
type PathBuilder interface {
	Build(ctx context.Context, md mode.Mode, req StartRequest) (payment.Path, error)
}

// Executor 定义了运行服务所需的执行能力。Resolve 在支付发生之前
// 校验 tokenId，Execute 在支付完成之后才会被调用。
type Executor interface {
	Resolve(tokenID uint64) (string, error)
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// Service 驱动单个运行走完 雇佣 -> 支付 -> 执行 的全流程。
// 同一时间至多一个运行在进行中。
type Service struct {
	machine  *Machine
	selector *mode.Selector
	paths    PathBuilder
	executor Executor

	wallet        string
	repo          storage.RunRepository
	publisher     activity.Publisher
	alerter       alerting.Dispatcher
	settleTimeout time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Option 定义可选配置。
type Option func(*Service)

// WithRepository 配置运行历史仓库。
func WithRepository(repo storage.RunRepository) Option {
	return func(s *Service) {
		s.repo = repo
	}
}

// WithPublisher 配置活动流发布器。
func WithPublisher(publisher activity.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerter = dispatcher
	}
}

// WithWalletAddress 配置执行调用携带的钱包地址。
func WithWalletAddress(address string) Option {
	return func(s *Service) {
		s.wallet = address
	}
}

// WithSettleTimeout 限制回执获取与日志解析阶段的时长。
func WithSettleTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.settleTimeout = timeout
		}
	}
}

// NewService 构造运行服务。
func NewService(selector *mode.Selector, paths PathBuilder, exec Executor, opts ...Option) (*Service, error) {
	if selector == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置模式选择器")
	}
	if paths == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置支付路径构造器")
	}
	if exec == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行调用器")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		machine:    NewMachine(),
		selector:   selector,
		paths:      paths,
		executor:   exec,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// StartRun 启动一次运行。上一次运行停在 done 时会先被自动清理，
// 正在进行中的运行会拒绝新的请求。
func (s *Service) StartRun(ctx context.Context, req StartRequest) (Snapshot, error) {
	if s.machine.Step() == StepDone {
		if err := s.machine.Reset(); err != nil {
			return Snapshot{}, err
		}
	}

	md, err := s.selector.Get()
	if err != nil {
		return Snapshot{}, err
	}
	// tokenId 必须在任何链上动作之前就能解析：支付是不可逆的，
	// 不能等到执行阶段才发现配置缺失。
	if _, err := s.executor.Resolve(req.TokenID); err != nil {
		return Snapshot{}, err
	}
	path, err := s.paths.Build(ctx, md, req)
	if err != nil {
		return Snapshot{}, err
	}

	runID := uuid.NewString()
	if err := s.machine.Begin(runID, req, md, path); err != nil {
		return Snapshot{}, err
	}

	handle, err := path.Submit(ctx)
	if err != nil {
		s.machine.OnPaymentError(err)
		return Snapshot{}, err
	}

	logger.Audit().Info("运行已启动",
		slog.String("run_id", runID),
		slog.String("mode", string(md.Name)),
		slog.Uint64("token_id", req.TokenID),
		slog.Bool("cross_agent", req.CrossAgent),
	)
	s.publish(ctx, activity.Event{
		RunID:      runID,
		Kind:       activity.KindRunStarted,
		Mode:       md.Name,
		Step:       string(StepAwaitingSignature),
		TokenID:    req.TokenID,
		OccurredAt: time.Now(),
	})

	s.wg.Add(1)
	go s.drive(runID, md, path, handle)

	return s.machine.Snapshot(), nil
}

// drive 消费交易句柄的状态信号并推进状态机。
// 通知通道在压力下会丢弃信号，轮询作为兜底。
func (s *Service) drive(runID string, md mode.Mode, path payment.Path, handle *chain.Handle) {
	defer s.wg.Done()

	ctx := s.rootCtx
	updates := handle.Updates()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch handle.State() {
		case chain.StateConfirming:
			if s.machine.OnConfirming() {
				s.publish(ctx, activity.Event{
					RunID:      runID,
					Kind:       activity.KindTxBroadcast,
					Mode:       md.Name,
					Step:       string(StepConfirming),
					TxHash:     handle.Hash().Hex(),
					OccurredAt: time.Now(),
				})
			}
		case chain.StateSuccess:
			s.settleAndExecute(ctx, runID, md, path)
			return
		case chain.StateError:
			s.failPayment(ctx, runID, md, handle.Err())
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-updates:
		case <-ticker.C:
		}
	}
}

// failPayment 处理签名或确认阶段的失败：先截取快照再回退状态机，
// 否则交易哈希与错误信息会随重置一起消失。
func (s *Service) failPayment(ctx context.Context, runID string, md mode.Mode, cause error) {
	if cause == nil {
		cause = xerrors.New(xerrors.CodeConfirmationFailed, "交易确认失败")
	}
	snap := s.machine.Snapshot()
	if !s.machine.OnPaymentError(cause) {
		return
	}

	record := recordFromSnapshot(snap)
	record.ErrorCode = string(xerrors.CodeOf(cause))
	record.LastError = xerrors.DisplayMessage(cause, displayErrorLimit)
	record.FinishedAt = time.Now().Unix()
	s.record(ctx, record)

	logger.Audit().Warn("运行支付失败",
		slog.String("run_id", runID),
		slog.String("mode", string(md.Name)),
		slog.String("error_code", record.ErrorCode),
		slog.String("error", record.LastError),
	)
	s.publish(ctx, activity.Event{
		RunID:      runID,
		Kind:       activity.KindRunFailed,
		Mode:       md.Name,
		Step:       string(snap.Step),
		TokenID:    snap.TokenID,
		TxHash:     snap.TxHash,
		Detail:     record.LastError,
		OccurredAt: time.Now(),
	})
	s.emitAlert(ctx, runID, md, snap.Step, cause)
}

func (s *Service) settleAndExecute(ctx context.Context, runID string, md mode.Mode, path payment.Path) {
	settleCtx := ctx
	if s.settleTimeout > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(ctx, s.settleTimeout)
		defer cancel()
	}
	if err := path.Settle(settleCtx); err != nil {
		s.machine.OnSettlementFailed(err)
		snap := s.machine.Snapshot()
		s.record(ctx, recordFromSnapshot(snap))

		logger.Audit().Warn("运行结算失败",
			slog.String("run_id", runID),
			slog.String("mode", string(md.Name)),
			slog.String("error_code", snap.ErrorCode),
			slog.String("error", snap.LastError),
		)
		s.publish(ctx, activity.Event{
			RunID:      runID,
			Kind:       activity.KindRunFailed,
			Mode:       md.Name,
			Step:       string(snap.Step),
			TokenID:    snap.TokenID,
			TxHash:     snap.TxHash,
			Detail:     snap.LastError,
			OccurredAt: time.Now(),
		})
		s.emitAlert(ctx, runID, md, snap.Step, err)
		return
	}

	if !s.machine.OnPaymentComplete() {
		return
	}
	snap := s.machine.Snapshot()
	s.publish(ctx, activity.Event{
		RunID:      runID,
		Kind:       activity.KindPaymentSettled,
		Mode:       md.Name,
		Step:       string(StepExecuting),
		TokenID:    snap.TokenID,
		TxHash:     snap.TxHash,
		OccurredAt: time.Now(),
	})

	req := executor.Request{
		TokenID:       snap.TokenID,
		Query:         snap.Query,
		WalletAddress: s.wallet,
		CrossAgent:    snap.CrossAgent,
		Compliant:     md.IsCompliant(),
		PaymentID:     snap.PaymentID,
	}
	result, execErr := s.executor.Execute(ctx, req)
	s.machine.OnExecutionSettled(result, execErr)

	final := s.machine.Snapshot()
	s.record(ctx, recordFromSnapshot(final))

	if execErr != nil {
		logger.Audit().Warn("运行执行失败",
			slog.String("run_id", runID),
			slog.String("mode", string(md.Name)),
			slog.String("error_code", final.ErrorCode),
			slog.String("error", final.LastError),
		)
		s.publish(ctx, activity.Event{
			RunID:      runID,
			Kind:       activity.KindRunFailed,
			Mode:       md.Name,
			Step:       string(final.Step),
			TokenID:    final.TokenID,
			TxHash:     final.TxHash,
			Detail:     final.LastError,
			OccurredAt: time.Now(),
		})
		s.emitAlert(ctx, runID, md, StepExecuting, execErr)
		return
	}

	logger.Audit().Info("运行执行成功",
		slog.String("run_id", runID),
		slog.String("mode", string(md.Name)),
		slog.String("tx_hash", final.TxHash),
	)
	s.publish(ctx, activity.Event{
		RunID:      runID,
		Kind:       activity.KindRunFinished,
		Mode:       md.Name,
		Step:       string(final.Step),
		TokenID:    final.TokenID,
		TxHash:     final.TxHash,
		OccurredAt: time.Now(),
	})
}

// Current 返回当前运行的快照。
func (s *Service) Current() Snapshot {
	return s.machine.Snapshot()
}

// ResetRun 将结束或空闲的运行清理为全新的 idle 状态。
func (s *Service) ResetRun(_ context.Context) (Snapshot, error) {
	if err := s.machine.Reset(); err != nil {
		return Snapshot{}, err
	}
	return s.machine.Snapshot(), nil
}

// History 返回最近的运行记录。未配置仓库时返回空列表。
func (s *Service) History(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListLatest(ctx, limit)
}

// CurrentMode 返回当前选择的模式。
func (s *Service) CurrentMode() (mode.Mode, error) {
	return s.selector.Get()
}

// ModeSelected 报告用户是否已经显式选择过模式。
func (s *Service) ModeSelected() bool {
	return s.selector.Selected()
}

// SetMode 切换应用模式。运行进行中时拒绝切换：
// 本次运行的模式在启动时已冻结，中途切换只会造成混乱。
func (s *Service) SetMode(ctx context.Context, name mode.Name) error {
	if step := s.machine.Step(); step != StepIdle && step != StepDone {
		return xerrors.New(xerrors.CodeRunInFlight, "运行进行中，无法切换模式")
	}
	return s.selector.Set(ctx, name)
}

// ClearMode 清除模式选择，下次访问会退回会话默认值。
func (s *Service) ClearMode(ctx context.Context) error {
	if step := s.machine.Step(); step != StepIdle && step != StepDone {
		return xerrors.New(xerrors.CodeRunInFlight, "运行进行中，无法清除模式")
	}
	return s.selector.Reset(ctx)
}

// Close 停止驱动协程并释放资源。
func (s *Service) Close() error {
	s.rootCancel()
	s.wg.Wait()
	var err error
	if s.repo != nil {
		err = s.repo.Close()
	}
	if s.publisher != nil {
		if closeErr := s.publisher.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Service) record(ctx context.Context, record storage.RunRecord) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, record); err != nil {
		logger.L().Error("记录运行历史失败",
			slog.Any("error", err),
			slog.String("run_id", record.ID),
		)
	}
}

func (s *Service) publish(ctx context.Context, event activity.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.L().Error("发布活动事件失败",
			slog.Any("error", err),
			slog.String("run_id", event.RunID),
			slog.String("kind", string(event.Kind)),
		)
	}
}

func (s *Service) emitAlert(ctx context.Context, runID string, md mode.Mode, step Step, cause error) {
	if s.alerter == nil || cause == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	code := xerrors.CodeOf(cause)
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		RunID:      runID,
		Mode:       string(md.Name),
		Step:       string(step),
		OccurredAt: time.Now(),
	}
	if err := s.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", runID),
			slog.String("step", string(step)),
		)
	}
}

func recordFromSnapshot(snap Snapshot) storage.RunRecord {
	record := storage.RunRecord{
		ID:         snap.ID,
		Mode:       string(snap.Mode),
		Step:       string(snap.Step),
		TokenID:    snap.TokenID,
		Query:      snap.Query,
		CrossAgent: snap.CrossAgent,
		TxHash:     snap.TxHash,
		ChainID:    snap.ChainID,
		PaymentID:  snap.PaymentID,
		ErrorCode:  snap.ErrorCode,
		LastError:  snap.LastError,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
	if snap.Result != nil {
		record.ResultText = snap.Result.Text
	}
	return record
}
