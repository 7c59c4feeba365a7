package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"payai/core"
	coreerrors "payai/core/errors"
	"payai/core/types"
	"payai/crypto"
	"payai/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowInsufficient  = -32026
)

type escrowIdentityParams struct {
	Address string `json:"address"`
}

type escrowBuyerParams struct {
	Buyer string `json:"buyer"`
}

type escrowContractAddressParams struct {
	Buyer    string `json:"buyer"`
	Sequence uint64 `json:"sequence"`
}

type globalStateJSON struct {
	Admin        string `json:"admin"`
	BuyerFeePct  uint64 `json:"buyerFeePct"`
	SellerFeePct uint64 `json:"sellerFeePct"`
}

type buyerCounterJSON struct {
	Buyer   string `json:"buyer"`
	Counter uint64 `json:"counter"`
}

type contractJSON struct {
	Address        string `json:"address"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	CID            string `json:"cid"`
	Amount         uint64 `json:"amount"`
	BuyerFee       uint64 `json:"buyerFee"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Status         string `json:"status"`
	IsReleased     bool   `json:"isReleased"`
	EscrowVault    string `json:"escrowVault"`
}

type contractAddressJSON struct {
	Address     string `json:"address"`
	EscrowVault string `json:"escrowVault"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

type receiptJSON struct {
	Hash      string        `json:"hash"`
	Type      string        `json:"type"`
	Caller    string        `json:"caller"`
	Contract  *contractJSON `json:"contract,omitempty"`
	Collected uint64        `json:"collected,omitempty"`
}

func formatContract(c *escrow.Contract) *contractJSON {
	if c == nil {
		return nil
	}
	return &contractJSON{
		Address:        "0x" + hex.EncodeToString(c.Address[:]),
		Buyer:          crypto.FormatIdentity(c.Buyer),
		Seller:         crypto.FormatIdentity(c.Seller),
		CID:            c.CID,
		Amount:         c.Amount,
		BuyerFee:       c.BuyerFee,
		SequenceNumber: c.SequenceNumber,
		Status:         c.Status.String(),
		IsReleased:     c.IsReleased(),
		EscrowVault:    crypto.FormatIdentity(escrow.EscrowVaultAddress(c.Address)),
	}
}

func formatReceipt(r *core.Receipt) receiptJSON {
	return receiptJSON{
		Hash:      r.Hash,
		Type:      r.Type,
		Caller:    crypto.FormatIdentity(r.Caller),
		Contract:  formatContract(r.Contract),
		Collected: r.Collected,
	}
}

func parseContractAddress(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid contract address: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("contract address must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, escrow.KindInvalidParameter, err.Error())
}

func (s *Server) handleEscrowSubmit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var ins types.Instruction
	if err := decodeSingleParam(req, &ins); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	receipt, err := s.node.Submit(&ins)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatReceipt(receipt))
}

func (s *Server) handleEscrowGetGlobalState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	gs, err := s.node.Engine().GlobalState()
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, globalStateJSON{
		Admin:        crypto.FormatIdentity(gs.Admin),
		BuyerFeePct:  gs.BuyerFeePct,
		SellerFeePct: gs.SellerFeePct,
	})
}

func (s *Server) handleEscrowGetBuyerCounter(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowBuyerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	buyer, err := crypto.ParseIdentity(params.Buyer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	counter, err := s.node.Engine().BuyerCounter(buyer)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, buyerCounterJSON{Buyer: crypto.FormatIdentity(counter.Owner), Counter: counter.Counter})
}

func (s *Server) handleEscrowGetContract(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIdentityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseContractAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	contract, err := s.node.Engine().ReadContract(addr)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatContract(contract))
}

func (s *Server) handleEscrowGetContractAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowContractAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	buyer, err := crypto.ParseIdentity(params.Buyer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr := escrow.ContractAddress(buyer, params.Sequence)
	writeResult(w, req.ID, contractAddressJSON{
		Address:     "0x" + hex.EncodeToString(addr[:]),
		EscrowVault: crypto.FormatIdentity(escrow.EscrowVaultAddress(addr)),
	})
}

func (s *Server) handleEscrowGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIdentityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := crypto.ParseIdentity(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.Engine().Balance(addr)
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: crypto.FormatIdentity(addr), Balance: balance})
}

func (s *Server) handleEscrowGetFeeVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	balance, err := s.node.Engine().FeeVaultBalance()
	if err != nil {
		s.writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: crypto.FormatIdentity(escrow.FeeVaultAddress()), Balance: balance})
}

func (s *Server) writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, coreerrors.ErrInvalidSignature):
		s.logRejected("invalid_signature", err)
		writeError(w, http.StatusUnauthorized, id, codeUnauthorized, "invalid_signature", err.Error())
		return
	case errors.Is(err, coreerrors.ErrDuplicateInstruction):
		s.logRejected("duplicate_instruction", err)
		writeError(w, http.StatusConflict, id, codeDuplicateTx, "duplicate_instruction", err.Error())
		return
	case errors.Is(err, coreerrors.ErrStaleInstruction), errors.Is(err, coreerrors.ErrInvalidInstruction):
		s.logRejected("invalid_instruction", err)
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_instruction", err.Error())
		return
	}

	kind := escrow.ErrorKind(err)
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	switch kind {
	case escrow.KindInvalidParameter:
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
	case escrow.KindNotFound:
		status = http.StatusNotFound
		code = codeEscrowNotFound
	case escrow.KindUnauthorized:
		status = http.StatusForbidden
		code = codeEscrowForbidden
	case escrow.KindAlreadyExists, escrow.KindInvalidState:
		status = http.StatusConflict
		code = codeEscrowConflict
	case escrow.KindInsufficientFunds:
		status = http.StatusUnprocessableEntity
		code = codeEscrowInsufficient
	default:
		s.logger.Error("escrow request failed", slog.String("error", err.Error()))
	}
	writeError(w, status, id, code, kind, err.Error())
}

// logRejected records instructions refused before they reach the engine; the
// engine logs its own rejections.
func (s *Server) logRejected(reason string, err error) {
	s.logger.Warn("instruction rejected", slog.String("reason", reason), slog.String("error", err.Error()))
}
