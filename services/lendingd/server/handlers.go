package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"goldlend/config"
	"goldlend/native/lending"
	"goldlend/native/swap"
	"goldlend/native/units"
	"goldlend/services/lendingd/journal"
	"goldlend/services/planner"
	"goldlend/services/wallet"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.deps.Fetcher.Market(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(market, s.cfg.Network))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.deps.Fetcher.Snapshot(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := newPositionView(snap.Position, lending.AssessPosition(snap.Market, snap.Position), s.cfg.Network)
	view.Balances = balanceViews(snap.Balances, s.cfg.Network)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	txs, err := s.deps.Fetcher.History(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": newTransactionViews(txs, s.cfg.Network)})
}

// handleMarketHistory serves indexed market states. from and to accept unix
// seconds or RFC 3339 and are open when omitted.
func (s *Server) handleMarketHistory(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, fmt.Errorf("%w: to precedes from", errBadRequest))
		return
	}
	states, err := s.deps.Fetcher.MarketHistory(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": newHistoricalStateViews(states)})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.project(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) project(ctx context.Context, req projectRequest) (projectResponse, error) {
	account, err := parseAccount(req.Account)
	if err != nil {
		return projectResponse{}, err
	}
	intent, err := planner.ParseIntent(req.Intent)
	if err != nil {
		return projectResponse{}, err
	}
	network := s.cfg.Network
	collateral, err := parseAmount(req.Collateral, network.Gold)
	if err != nil {
		return projectResponse{}, err
	}
	market, err := s.deps.Fetcher.Market(ctx)
	if err != nil {
		return projectResponse{}, err
	}
	pos, err := s.deps.Fetcher.Position(ctx, account)
	if err != nil {
		return projectResponse{}, err
	}

	var projected lending.Risk
	switch intent {
	case planner.IntentSupplyBorrow:
		borrow, err := parseAmount(req.Borrow, network.Stable)
		if err != nil {
			return projectResponse{}, err
		}
		projected = lending.ProjectSupplyBorrow(market, pos, collateral, borrow)
	case planner.IntentRepay:
		amount, err := parseAmount(req.Amount, network.Stable)
		if err != nil {
			return projectResponse{}, err
		}
		projected = lending.ProjectRepay(market, pos, amount)
	case planner.IntentRepayFull:
		projected = lending.ProjectRepay(market, pos, pos.BorrowedAssets)
	case planner.IntentWithdraw:
		amount, err := parseAmount(req.Amount, network.Gold)
		if err != nil {
			return projectResponse{}, err
		}
		projected = lending.ProjectWithdraw(market, pos, amount)
	default:
		return projectResponse{}, fmt.Errorf("%w: intent %s has no risk projection", errBadRequest, intent)
	}
	return projectResponse{
		Current:              newRiskView(lending.AssessPosition(market, pos), network),
		Projected:            newRiskView(projected, network),
		MaxAdditionalBorrow:  amountString(lending.MaxAdditionalBorrow(market, pos, collateral)),
		SafeAdditionalBorrow: amountString(lending.SafeAdditionalBorrow(market, pos, collateral)),
		MaxSafeWithdraw:      amountString(lending.MaxSafeWithdraw(market, pos)),
	}, nil
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	direction, in, out, err := s.swapTokens(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	amountIn, err := parseAmount(req.AmountIn, in)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := s.quote(r.Context(), direction, amountIn, req.Slippage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Direction:        string(quote.Direction),
		AmountIn:         amountString(quote.AmountIn),
		AmountOut:        amountString(quote.AmountOut),
		MinimumAmountOut: amountString(quote.MinimumAmountOut),
		Slippage:         quote.Slippage,
		Display: fmt.Sprintf("%s %s for at least %s %s",
			units.FormatTokenAmount(quote.AmountIn, in.Decimals, 6), in.Symbol,
			units.FormatTokenAmount(quote.MinimumAmountOut, out.Decimals, 6), out.Symbol),
	})
}

func (s *Server) swapTokens(raw string) (swap.Direction, config.Token, config.Token, error) {
	direction, err := swap.ParseDirection(raw)
	if err != nil {
		return "", config.Token{}, config.Token{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if direction == swap.StableToGold {
		return direction, s.cfg.Network.Stable, s.cfg.Network.Gold, nil
	}
	return direction, s.cfg.Network.Gold, s.cfg.Network.Stable, nil
}

func (s *Server) quote(ctx context.Context, direction swap.Direction, amountIn *big.Int, slippage *float64) (swap.Quote, error) {
	if s.deps.Quoter == nil {
		return swap.Quote{}, fmt.Errorf("%w: swap quotes", errUnavailable)
	}
	tolerance := s.cfg.DefaultSlippage
	if slippage != nil {
		tolerance = *slippage
	}
	return s.deps.Quoter.Quote(ctx, direction, amountIn, tolerance)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	intent, err := planner.ParseIntent(chi.URLParam(r, "intent"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body intentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := s.buildRequest(r.Context(), intent, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	batch, err := s.deps.Planner.Plan(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// buildRequest validates the body for intent. Swaps without an explicit
// minimum output are quoted here so the floor is fixed before planning.
func (s *Server) buildRequest(ctx context.Context, intent planner.Intent, body intentRequest) (planner.Request, error) {
	account, err := parseAccount(body.Account)
	if err != nil {
		return planner.Request{}, err
	}
	network := s.cfg.Network
	req := planner.Request{Intent: intent, Account: account}
	switch intent {
	case planner.IntentSupplyBorrow:
		if req.Collateral, err = parseAmount(body.Collateral, network.Gold); err != nil {
			return planner.Request{}, err
		}
		if req.Borrow, err = parseAmount(body.Borrow, network.Stable); err != nil {
			return planner.Request{}, err
		}
	case planner.IntentRepay:
		if req.Amount, err = parseAmount(body.Amount, network.Stable); err != nil {
			return planner.Request{}, err
		}
	case planner.IntentRepayFull:
	case planner.IntentWithdraw:
		if req.Amount, err = parseAmount(body.Amount, network.Gold); err != nil {
			return planner.Request{}, err
		}
	case planner.IntentTransfer:
		token, ok := s.cfg.Network.Token(body.Token)
		if !ok {
			return planner.Request{}, fmt.Errorf("%w: unsupported token %q", errBadRequest, body.Token)
		}
		if req.To, err = parseAccount(body.To); err != nil {
			return planner.Request{}, err
		}
		req.Token = token.Address
		if req.Amount, err = parseAmount(body.Amount, token); err != nil {
			return planner.Request{}, err
		}
	case planner.IntentSwap:
		direction, in, out, err := s.swapTokens(body.Direction)
		if err != nil {
			return planner.Request{}, err
		}
		amountIn, err := parseAmount(body.AmountIn, in)
		if err != nil {
			return planner.Request{}, err
		}
		minOut, err := parseAmount(body.MinAmountOut, out)
		if err != nil {
			return planner.Request{}, err
		}
		if minOut == nil {
			if amountIn == nil || amountIn.Sign() <= 0 {
				return planner.Request{}, fmt.Errorf("%w: amount in", planner.ErrInvalidAmount)
			}
			quote, err := s.quote(ctx, direction, amountIn, body.Slippage)
			if err != nil {
				return planner.Request{}, err
			}
			minOut = quote.MinimumAmountOut
		}
		req.Swap = planner.SwapRequest{Direction: direction, AmountIn: amountIn, MinAmountOut: minOut}
		if body.Deadline > 0 {
			req.Swap.Deadline = time.Unix(body.Deadline, 0)
		}
	}
	return req, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil || s.deps.Journal == nil {
		writeError(w, fmt.Errorf("%w: action submission", errUnavailable))
		return
	}
	intent, err := planner.ParseIntent(chi.URLParam(r, "intent"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body intentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	req, err := s.buildRequest(ctx, intent, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if subject, ok := authorizedAccount(r.Context()); ok && subject != req.Account {
		writeError(w, errForbidden)
		return
	}

	record, err := s.deps.Journal.Create(ctx, intent, req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	action := wallet.Action{
		Intent:  intent,
		Account: req.Account,
		Plan: func(ctx context.Context) (planner.Batch, error) {
			return s.deps.Planner.Plan(ctx, req)
		},
	}
	observe := s.deps.Journal.Observer(r.Context(), record.ID)
	runCtx, runCancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.ActionTimeout)
	s.actions.Add(1)
	go func() {
		defer s.actions.Done()
		defer runCancel()
		s.deps.Runner.Run(runCtx, action, observe)
	}()

	s.logger.Info("action accepted",
		slog.String("id", record.ID.String()),
		slog.String("intent", string(intent)),
		slog.String("account", req.Account.Hex()))
	writeJSON(w, http.StatusAccepted, actionResponse{
		ID:        record.ID.String(),
		Intent:    intent,
		Account:   req.Account.Hex(),
		State:     record.State(),
		CreatedAt: record.CreatedAt,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, fmt.Errorf("%w: action journal", errUnavailable))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid action id", errBadRequest))
		return
	}
	record, err := s.deps.Journal.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	transitions, err := s.deps.Journal.Transitions(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := s.newActionResponse(record)
	for _, tr := range transitions {
		resp.Transitions = append(resp.Transitions, transitionView{Status: tr.Status, Hash: tr.TxHash, Code: tr.ErrorCode, At: tr.At})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAccountActions lists the account's journaled actions, newest first.
func (s *Server) handleAccountActions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, fmt.Errorf("%w: action journal", errUnavailable))
		return
	}
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
	}
	records, err := s.deps.Journal.Recent(r.Context(), account, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]actionResponse, 0, len(records))
	for _, record := range records {
		out = append(out, s.newActionResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (s *Server) newActionResponse(record journal.Action) actionResponse {
	resp := actionResponse{
		ID:        record.ID.String(),
		Intent:    planner.Intent(record.Intent),
		Account:   common.HexToAddress(record.Account).Hex(),
		State:     record.State(),
		CreatedAt: record.CreatedAt,
	}
	if resp.State.Hash != nil {
		hash := resp.State.Hash.Hex()
		resp.Display = &actionStateDisplay{Hash: units.FormatTxHash(hash)}
		if s.cfg.Network.ExplorerURL != "" {
			resp.Explorer = s.cfg.Network.TxURL(hash)
		}
	}
	return resp
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeError(w, err)
}
