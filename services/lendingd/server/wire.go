package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"goldlend/config"
	"goldlend/native/lending"
	"goldlend/native/units"
	"goldlend/services/fetcher"
	"goldlend/services/lendingd/poller"
	"goldlend/services/planner"
	"goldlend/services/wallet"
)

const maxRequestBody = 1 << 20 // 1 MiB

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decode request: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// parseAccount validates a hex account from a path or body.
func parseAccount(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: invalid account %q", errBadRequest, raw)
	}
	account := common.HexToAddress(trimmed)
	if account == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero account", errBadRequest)
	}
	return account, nil
}

// parseAmount reads an optional amount of token. Integers are base units;
// text with a decimal point is read in whole token units.
func parseAmount(raw string, token config.Token) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if strings.Contains(trimmed, ".") {
		value, err := units.ParseTokenInput(trimmed, token.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return value, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", errBadRequest, raw)
	}
	return value, nil
}

// parseTime reads an optional timestamp given as unix seconds or RFC 3339.
func parseTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if secs < 0 {
			return time.Time{}, fmt.Errorf("%w: negative timestamp %q", errBadRequest, raw)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", errBadRequest, raw)
	}
	return t.UTC(), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type riskConstants struct {
	SafeLTV                float64 `json:"safeLtv"`
	WarningLTV             float64 `json:"warningLtv"`
	HealthDangerThreshold  float64 `json:"healthDanger"`
	HealthWarningThreshold float64 `json:"healthWarning"`
}

var constants = riskConstants{
	SafeLTV:                lending.SafeLTV,
	WarningLTV:             lending.WarningLTV,
	HealthDangerThreshold:  lending.HealthDangerThreshold,
	HealthWarningThreshold: lending.HealthWarningThreshold,
}

type marketDisplay struct {
	Liquidity   string `json:"liquidity"`
	Utilization string `json:"utilization"`
	BorrowAPR   string `json:"borrowApr"`
	SupplyAPR   string `json:"supplyApr"`
	LLTV        string `json:"lltv"`
}

type marketView struct {
	ID                 string        `json:"id"`
	LoanToken          string        `json:"loanToken"`
	CollateralToken    string        `json:"collateralToken"`
	Oracle             string        `json:"oracle"`
	IRM                string        `json:"irm"`
	LLTV               float64       `json:"lltv"`
	TotalSupplyAssets  string        `json:"totalSupplyAssets"`
	TotalBorrowAssets  string        `json:"totalBorrowAssets"`
	AvailableLiquidity string        `json:"availableLiquidity"`
	OraclePrice        string        `json:"oraclePrice"`
	Utilization        float64       `json:"utilization"`
	BorrowAPR          float64       `json:"borrowApr"`
	SupplyAPR          float64       `json:"supplyApr"`
	Source             string        `json:"source"`
	FetchedAt          time.Time     `json:"fetchedAt"`
	Risk               riskConstants `json:"risk"`
	Display            marketDisplay `json:"display"`
}

func newMarketView(m lending.Market, network config.Network) marketView {
	return marketView{
		ID:                 m.ID.Hex(),
		LoanToken:          m.Params.LoanToken.Hex(),
		CollateralToken:    m.Params.CollateralToken.Hex(),
		Oracle:             m.Params.Oracle.Hex(),
		IRM:                m.Params.IRM.Hex(),
		LLTV:               lending.LLTVOrDefault(&m.Params),
		TotalSupplyAssets:  amountString(m.TotalSupplyAssets),
		TotalBorrowAssets:  amountString(m.TotalBorrowAssets),
		AvailableLiquidity: amountString(m.AvailableLiquidity),
		OraclePrice:        amountString(m.OraclePrice),
		Utilization:        m.Utilization(),
		BorrowAPR:          m.BorrowAPR,
		SupplyAPR:          m.SupplyAPR,
		Source:             string(m.Source),
		FetchedAt:          m.FetchedAt,
		Risk:               constants,
		Display: marketDisplay{
			Liquidity:   units.FormatTokenAmount(m.AvailableLiquidity, network.Stable.Decimals, 2) + " " + network.Stable.Symbol,
			Utilization: units.FormatPercent(m.Utilization(), 2),
			BorrowAPR:   units.FormatAPR(m.BorrowAPR),
			SupplyAPR:   units.FormatAPR(m.SupplyAPR),
			LLTV:        units.FormatPercent(lending.LLTVOrDefault(&m.Params), 0),
		},
	}
}

type riskDisplay struct {
	CollateralValue string `json:"collateralValue"`
	Borrowed        string `json:"borrowed"`
	LTV             string `json:"ltv"`
	HealthFactor    string `json:"healthFactor"`
}

type riskView struct {
	Collateral      string               `json:"collateral"`
	CollateralValue string               `json:"collateralValue"`
	Borrowed        string               `json:"borrowed"`
	MaxBorrow       string               `json:"maxBorrow"`
	SafeBorrow      string               `json:"safeBorrow"`
	LTV             float64              `json:"ltv"`
	LLTV            float64              `json:"lltv"`
	HealthFactor    lending.HealthFactor `json:"healthFactor"`
	HealthBand      lending.Band         `json:"healthBand"`
	LTVBand         lending.Band         `json:"ltvBand"`
	Display         riskDisplay          `json:"display"`
}

func newRiskView(r lending.Risk, network config.Network) riskView {
	return riskView{
		Collateral:      amountString(r.Collateral),
		CollateralValue: amountString(r.CollateralValue),
		Borrowed:        amountString(r.Borrowed),
		MaxBorrow:       amountString(r.MaxBorrow),
		SafeBorrow:      amountString(r.SafeBorrow),
		LTV:             r.LTV,
		LLTV:            r.LLTV,
		HealthFactor:    r.HealthFactor,
		HealthBand:      r.HealthBand,
		LTVBand:         r.LTVBand,
		Display: riskDisplay{
			CollateralValue: units.FormatUSDAmount(r.CollateralValue, network.Stable.Decimals),
			Borrowed:        units.FormatUSDAmount(r.Borrowed, network.Stable.Decimals),
			LTV:             units.FormatPercent(r.LTV, 2),
			HealthFactor:    r.HealthFactor.String(),
		},
	}
}

type positionView struct {
	Account        string            `json:"account"`
	SupplyShares   string            `json:"supplyShares"`
	BorrowShares   string            `json:"borrowShares"`
	Collateral     string            `json:"collateral"`
	BorrowedAssets string            `json:"borrowedAssets"`
	Source         string            `json:"source"`
	FetchedAt      time.Time         `json:"fetchedAt"`
	Risk           riskView          `json:"risk"`
	Balances       map[string]string `json:"balances,omitempty"`
}

func newPositionView(pos lending.Position, risk lending.Risk, network config.Network) positionView {
	return positionView{
		Account:        pos.Account.Hex(),
		SupplyShares:   amountString(pos.SupplyShares),
		BorrowShares:   amountString(pos.BorrowShares),
		Collateral:     amountString(pos.Collateral),
		BorrowedAssets: amountString(pos.BorrowedAssets),
		Source:         string(pos.Source),
		FetchedAt:      pos.FetchedAt,
		Risk:           newRiskView(risk, network),
	}
}

func balanceViews(balances map[common.Address]*big.Int, network config.Network) map[string]string {
	out := make(map[string]string, len(balances))
	for _, token := range []config.Token{network.Stable, network.Gold} {
		if balance, ok := balances[token.Address]; ok {
			out[token.Symbol] = amountString(balance)
		}
	}
	return out
}

type transactionView struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Assets    string    `json:"assets"`
	Shares    string    `json:"shares"`
	Explorer  string    `json:"explorer,omitempty"`
}

func newTransactionViews(txs []fetcher.Transaction, network config.Network) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		view := transactionView{
			Hash:      tx.Hash.Hex(),
			Timestamp: tx.Timestamp,
			Type:      string(tx.Type),
			Assets:    amountString(tx.Assets),
			Shares:    amountString(tx.Shares),
		}
		if network.ExplorerURL != "" {
			view.Explorer = network.TxURL(tx.Hash.Hex())
		}
		out = append(out, view)
	}
	return out
}

type historicalStateView struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalSupplyAssets string    `json:"totalSupplyAssets"`
	TotalBorrowAssets string    `json:"totalBorrowAssets"`
	Utilization       float64   `json:"utilization"`
	BorrowAPR         float64   `json:"borrowApr"`
	SupplyAPR         float64   `json:"supplyApr"`
}

func newHistoricalStateViews(states []fetcher.HistoricalState) []historicalStateView {
	out := make([]historicalStateView, 0, len(states))
	for _, st := range states {
		totals := lending.Market{TotalSupplyAssets: st.TotalSupplyAssets, TotalBorrowAssets: st.TotalBorrowAssets}
		out = append(out, historicalStateView{
			Timestamp:         st.Timestamp,
			TotalSupplyAssets: amountString(st.TotalSupplyAssets),
			TotalBorrowAssets: amountString(st.TotalBorrowAssets),
			Utilization:       totals.Utilization(),
			BorrowAPR:         st.BorrowAPY,
			SupplyAPR:         st.SupplyAPY,
		})
	}
	return out
}

// projectRequest describes a hypothetical action.
type projectRequest struct {
	Account    string `json:"account"`
	Intent     string `json:"intent"`
	Collateral string `json:"collateral"`
	Borrow     string `json:"borrow"`
	Amount     string `json:"amount"`
}

type projectResponse struct {
	Current              riskView `json:"current"`
	Projected            riskView `json:"projected"`
	MaxAdditionalBorrow  string   `json:"maxAdditionalBorrow"`
	SafeAdditionalBorrow string   `json:"safeAdditionalBorrow"`
	MaxSafeWithdraw      string   `json:"maxSafeWithdraw"`
}

type quoteRequest struct {
	Direction string   `json:"direction"`
	AmountIn  string   `json:"amountIn"`
	Slippage  *float64 `json:"slippage"`
}

type quoteResponse struct {
	Direction        string  `json:"direction"`
	AmountIn         string  `json:"amountIn"`
	AmountOut        string  `json:"amountOut"`
	MinimumAmountOut string  `json:"minimumAmountOut"`
	Slippage         float64 `json:"slippage"`
	Display          string  `json:"display"`
}

// intentRequest carries the parameters of any intent; only the fields the
// intent reads are consulted.
type intentRequest struct {
	Account      string   `json:"account"`
	Collateral   string   `json:"collateral"`
	Borrow       string   `json:"borrow"`
	Amount       string   `json:"amount"`
	Token        string   `json:"token"`
	To           string   `json:"to"`
	Direction    string   `json:"direction"`
	AmountIn     string   `json:"amountIn"`
	MinAmountOut string   `json:"minAmountOut"`
	Slippage     *float64 `json:"slippage"`
	Deadline     int64    `json:"deadline"`
}

type actionResponse struct {
	ID          string              `json:"id"`
	Intent      planner.Intent      `json:"intent"`
	Account     string              `json:"account"`
	State       wallet.State        `json:"state"`
	Transitions []transitionView    `json:"transitions,omitempty"`
	Explorer    string              `json:"explorer,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	Display     *actionStateDisplay `json:"display,omitempty"`
}

type actionStateDisplay struct {
	Hash string `json:"hash"`
}

type transitionView struct {
	Status string    `json:"status"`
	Hash   string    `json:"hash,omitempty"`
	Code   string    `json:"code,omitempty"`
	At     time.Time `json:"at"`
}

type streamMessage struct {
	Type     string        `json:"type"`
	Position *positionView `json:"position,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

func newStreamUpdate(update poller.Update, network config.Network) streamMessage {
	view := newPositionView(update.Position, update.Risk, network)
	return streamMessage{Type: "position", Position: &view, At: update.At}
}
