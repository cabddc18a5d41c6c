package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/wallet"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 16 << 10

type openWalletRequest struct {
	UserKey string `json:"user_key"`
	Alias   string `json:"alias"`
}

type assetView struct {
	Symbol   string `json:"symbol"`
	TokenID  string `json:"token_id,omitempty"`
	Decimals int32  `json:"decimals"`
	Name     string `json:"name,omitempty"`
}

func (s *Server) handleOpenWallet(w http.ResponseWriter, r *http.Request) {
	var req openWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.service.OpenWallet(r.Context(), req.UserKey, req.Alias)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Wallet(r.Context(), mux.Vars(r)["userKey"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := s.service.Balance(r.Context(), vars["userKey"], vars["asset"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleResolveRecipient(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ResolveRecipient(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	assets := s.service.Catalog().Assets()
	out := make([]assetView, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetView{Symbol: a.Symbol, TokenID: string(a.ID), Decimals: a.Decimals, Name: a.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req wallet.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.service.Send(r.Context(), req)
	if err != nil {
		s.writeTransferError(w, r, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	report := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": report})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeStatus(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return false
	}
	return true
}
