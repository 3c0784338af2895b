package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"petmarket/internal/config"
	"petmarket/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg config.Config
	log *slog.Logger
	svc *ledger.Service
	mux *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, svc *ledger.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: logger,
		svc: svc,
		mux: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/market", s.handleMarketList)
		r.Get("/market/{code}", s.handleMarketDetail)

		r.Route("/groups/{group}", func(r chi.Router) {
			r.Get("/rankings", s.handleRankings)
			r.Post("/transfers", s.handleTransfer)

			r.Route("/accounts/{id}", func(r chi.Router) {
				r.Get("/", s.handleAccount)
				r.Get("/transfers", s.handleTransferHistory)
				r.Get("/portfolio", s.handlePortfolio)

				r.Post("/bank/deposit", s.handleDeposit)
				r.Post("/bank/withdraw", s.handleWithdraw)
				r.Post("/bank/upgrade", s.handleBankUpgrade)
				r.Post("/bank/interest", s.handleBankInterest)

				r.Post("/loan", s.handleTakeLoan)
				r.Post("/loan/repay", s.handleRepay)

				r.Post("/buy", s.handleBuy)
				r.Post("/sell", s.handleSell)

				r.Post("/invest", s.handleInvestOpen)
				r.Post("/invest/addon", s.handleInvestAddon)
				r.Post("/invest/close", s.handleInvestClose)

				r.Post("/pets/purchase", s.handlePetPurchase)
				r.Post("/pets/release", s.handlePetRelease)
				r.Post("/ransom", s.handleRansom)
			})
		})

		r.Post("/admin/market/tick", s.handleMarketTick)
		r.Post("/admin/flush", s.handleFlush)
	})
}

func pathIDs(r *http.Request) (group, id string) {
	return chi.URLParam(r, "group"), chi.URLParam(r, "id")
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	acc, updates := s.svc.GetAccount(group, id)
	writeJSON(w, http.StatusOK, map[string]any{"account": acc, "updates": updates})
}

func (s *Server) handleTransferHistory(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	writeJSON(w, http.StatusOK, map[string]any{"transfers": s.svc.TransferHistory(group, id)})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	lines, err := s.svc.Portfolio(group, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": lines})
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.amountOp(w, r, s.svc.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.amountOp(w, r, s.svc.Withdraw)
}

func (s *Server) amountOp(w http.ResponseWriter, r *http.Request, op func(string, string, int64) (*ledger.BankStatus, error)) {
	group, id := pathIDs(r)
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := op(group, id, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBankUpgrade(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	out, err := s.svc.UpgradeBank(group, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBankInterest(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	out, err := s.svc.CollectInterest(group, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTakeLoan(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.TakeLoan(group, id, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.Repay(group, id, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var in struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.Transfer(group, in.From, in.To, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in struct {
		Code   string `json:"code"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.BuyInstrument(group, id, in.Code, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in struct {
		Code  string `json:"code"`
		Value int64  `json:"value"`
		All   bool   `json:"all"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value := in.Value
	if in.All {
		value = 0
	}
	out, err := s.svc.SellInstrument(group, id, in.Code, value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvestOpen(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.OpenInvestment(group, id, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvestAddon(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.AddOnInvestment(group, id, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvestClose(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	out, err := s.svc.CloseInvestment(group, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePetPurchase(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.PurchasePet(group, id, in.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePetRelease(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	var in struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.ReleasePet(group, id, in.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRansom(w http.ResponseWriter, r *http.Request) {
	group, id := pathIDs(r)
	out, err := s.svc.Ransom(group, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	kind := r.URL.Query().Get("kind")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{"rows": s.svc.Rankings(group, kind, limit)})
}

func (s *Server) handleMarketList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instruments": s.svc.Market().List(),
		"last_update": s.svc.Market().LastUpdate(),
	})
}

func (s *Server) handleMarketDetail(w http.ResponseWriter, r *http.Request) {
	_, inst, ok := s.svc.Market().Get(chi.URLParam(r, "code"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown instrument")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleMarketTick(w http.ResponseWriter, _ *http.Request) {
	s.svc.Market().Tick()
	s.svc.Market().Save()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "last_update": s.svc.Market().LastUpdate()})
}

func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.Flush(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientBank),
		errors.Is(err, ledger.ErrCreditLimit),
		errors.Is(err, ledger.ErrBankFull),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrNoHolding),
		errors.Is(err, ledger.ErrNoInvestment),
		errors.Is(err, ledger.ErrInvestmentActive),
		errors.Is(err, ledger.ErrPetOwned),
		errors.Is(err, ledger.ErrNotYourPet):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInvalidTarget):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrJailed), errors.Is(err, ledger.ErrCooldown):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
