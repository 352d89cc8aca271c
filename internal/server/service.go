package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"NeuroVault/internal/access"
	"NeuroVault/internal/event"
	"NeuroVault/internal/observability"
	"NeuroVault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// Service is the transport-neutral API. Mutating calls verify the signed
// request, decode its body and pass the recovered principal to the vault.
type Service struct {
	vault    *vault.Vault
	verifier *access.Verifier
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu            sync.Mutex
	lastExpired int64
}

func NewService(v *vault.Vault, verifier *access.Verifier, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{vault: v, verifier: verifier, logger: logger, metrics: metrics}
}

// authenticate verifies req for op and decodes its body into body.
func (s *Service) authenticate(op string, req *access.SignedRequest, body any) (access.Principal, error) {
	if req == nil {
		return access.Principal{}, fmt.Errorf("%w: missing request", vault.ErrInvalidInput)
	}

	caller, err := s.verifier.Verify(op, req)
	s.observeReplay()
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuthRejected.WithLabelValues(op).Inc()
		}
		return access.Principal{}, err
	}

	if body != nil {
		dec := json.NewDecoder(bytes.NewReader(req.Body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(body); err != nil {
			return access.Principal{}, fmt.Errorf("%w: decode %s body: %v", vault.ErrInvalidInput, op, err)
		}
	}
	return caller, nil
}

func (s *Service) observeReplay() {
	if s.metrics == nil {
		return
	}
	size, expired := s.verifier.ReplayStats()
	s.metrics.ReplayCacheSize.Set(float64(size))

	s.mu.Lock()
	delta := expired - s.lastExpired
	s.lastExpired = expired
	s.mu.Unlock()
	if delta > 0 {
		s.metrics.ReplayExpired.Add(float64(delta))
	}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an account id", vault.ErrInvalidInput, field, s)
	}
	return common.HexToAddress(s), nil
}

func mutation(env *event.Envelope, err error) (*MutationResponse, error) {
	if err != nil {
		return nil, err
	}
	return &MutationResponse{Committed: true, Event: env}, nil
}

func (s *Service) Initialize(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body InitializeBody
	caller, err := s.authenticate(OpInitialize, req, &body)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		return nil, err
	}
	agent, err := parseAddress("agent", body.Agent)
	if err != nil {
		return nil, err
	}
	tok, err := parseAddress("token", body.Token)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.Initialize(ctx, caller, owner, agent, tok))
}

func (s *Service) Deposit(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body TransferBody
	caller, err := s.authenticate(OpDeposit, req, &body)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", body.Account)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.Deposit(ctx, caller, account, body.Amount))
}

func (s *Service) Withdraw(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body TransferBody
	caller, err := s.authenticate(OpWithdraw, req, &body)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", body.Account)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.Withdraw(ctx, caller, account, body.Amount))
}

func (s *Service) Rebalance(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body RebalanceBody
	caller, err := s.authenticate(OpRebalance, req, &body)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.Rebalance(ctx, caller, body.Strategy, body.Amount))
}

func (s *Service) SetPaused(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body PausedBody
	caller, err := s.authenticate(OpSetPaused, req, &body)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.SetPaused(ctx, caller, body.Paused))
}

func (s *Service) EmergencyPause(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	caller, err := s.authenticate(OpEmergencyPause, req, nil)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.EmergencyPause(ctx, caller))
}

func (s *Service) SetTvlCap(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body CapBody
	caller, err := s.authenticate(OpSetTvlCap, req, &body)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.SetTvlCap(ctx, caller, body.Value))
}

func (s *Service) SetUserDepositCap(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body CapBody
	caller, err := s.authenticate(OpSetUserDepositCap, req, &body)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.SetUserDepositCap(ctx, caller, body.Value))
}

func (s *Service) SetLimits(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body LimitsBody
	caller, err := s.authenticate(OpSetLimits, req, &body)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.SetLimits(ctx, caller, body.UserDepositCap, body.TvlCap))
}

func (s *Service) ReportAssets(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	var body AssetsBody
	caller, err := s.authenticate(OpReportAssets, req, &body)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.ReportAssets(ctx, caller, body.Total))
}

func (s *Service) Upgrade(ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
	caller, err := s.authenticate(OpUpgrade, req, nil)
	if err != nil {
		return nil, err
	}
	return mutation(s.vault.Upgrade(ctx, caller))
}

// --- Reads ---

func (s *Service) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	bal, err := s.vault.GetBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{Account: account.Hex(), Balance: bal}, nil
}

func (s *Service) GetTotalDeposits(ctx context.Context, _ *Empty) (*TotalDepositsResponse, error) {
	total, err := s.vault.GetTotalDeposits(ctx)
	if err != nil {
		return nil, err
	}
	return &TotalDepositsResponse{TotalDeposits: total}, nil
}

func (s *Service) GetAgent(ctx context.Context, _ *Empty) (*AgentResponse, error) {
	agent, err := s.vault.GetAgent(ctx)
	if err != nil {
		return nil, err
	}
	return &AgentResponse{Agent: agent.Hex()}, nil
}

func (s *Service) IsPaused(ctx context.Context, _ *Empty) (*PausedResponse, error) {
	paused, err := s.vault.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	return &PausedResponse{Paused: paused}, nil
}

func (s *Service) GetConfig(ctx context.Context, _ *Empty) (*ConfigResponse, error) {
	cfg, err := s.vault.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	return configResponse(cfg), nil
}

func (s *Service) ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}

	envs, err := s.vault.Events(ctx, req.After, limit)
	if err != nil {
		return nil, err
	}
	next := req.After
	if len(envs) > 0 {
		next = envs[len(envs)-1].Sequence
	}
	return &ListEventsResponse{Events: envs, Next: next}, nil
}
