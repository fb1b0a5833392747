package mint

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mlbern/nutmeg/ecash"
)

// MintServer exposes the ledger over HTTP.
type MintServer struct {
	httpServer *http.Server
	mint       *Mint
	logger     *slog.Logger
}

func SetupMintServer(config Config) (*MintServer, error) {
	m, err := LoadMint(config)
	if err != nil {
		return nil, err
	}

	server := &MintServer{mint: m, logger: m.logger}
	server.setupHttpServer(config.Port)
	return server, nil
}

func (ms *MintServer) Start() error {
	ms.logger.Info("mint server listening on: " + ms.httpServer.Addr)
	return ms.httpServer.ListenAndServe()
}

func (ms *MintServer) Shutdown(ctx context.Context) error {
	if err := ms.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return ms.mint.Close()
}

func (ms *MintServer) setupHttpServer(port string) {
	r := mux.NewRouter()

	r.HandleFunc("/keys", ms.handleKeys).Methods(http.MethodGet)
	r.HandleFunc("/keys/{id}", ms.handleKeys).Methods(http.MethodGet)
	r.HandleFunc("/keysets", ms.handleKeysets).Methods(http.MethodGet)
	r.HandleFunc("/mint", ms.handleRequestMint).Methods(http.MethodGet)
	r.HandleFunc("/mint", ms.handleMint).Methods(http.MethodPost)
	r.HandleFunc("/split", ms.handleSplit).Methods(http.MethodPost)
	r.HandleFunc("/melt", ms.handleMelt).Methods(http.MethodPost)
	r.HandleFunc("/check", ms.handleCheckSpendable).Methods(http.MethodPost)

	ms.httpServer = &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: r,
	}
}

func (ms *MintServer) handleKeys(rw http.ResponseWriter, req *http.Request) {
	keysetId := mux.Vars(req)["id"]

	keys, err := ms.mint.KeysetPublicKeys(keysetId)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, keys)
}

func (ms *MintServer) handleKeysets(rw http.ResponseWriter, req *http.Request) {
	ms.writeResponse(rw, map[string][]string{"keysets": ms.mint.KeysetIds()})
}

type requestMintResponse struct {
	PaymentRequest string `json:"pr"`
	Hash           string `json:"hash"`
}

func (ms *MintServer) handleRequestMint(rw http.ResponseWriter, req *http.Request) {
	amount, err := strconv.ParseUint(req.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		ms.writeErr(rw, ecash.BuildError("invalid amount", ecash.StandardErrCode))
		return
	}

	invoice, err := ms.mint.RequestMint(amount)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, requestMintResponse{
		PaymentRequest: invoice.PaymentRequest,
		Hash:           invoice.PaymentHash,
	})
}

type mintRequest struct {
	Outputs ecash.BlindedMessages `json:"outputs"`
}

func (ms *MintServer) handleMint(rw http.ResponseWriter, req *http.Request) {
	hash := req.URL.Query().Get("hash")

	var mintReq mintRequest
	if err := json.NewDecoder(req.Body).Decode(&mintReq); err != nil {
		ms.writeErr(rw, ecash.EmptyBodyErr)
		return
	}

	promises, err := ms.mint.MintTokens(hash, mintReq.Outputs)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, map[string]ecash.BlindedSignatures{"promises": promises})
}

type splitRequest struct {
	Proofs  ecash.Proofs          `json:"proofs"`
	Amount  uint64                `json:"amount"`
	Outputs ecash.BlindedMessages `json:"outputs"`
}

type splitResponse struct {
	Fst ecash.BlindedSignatures `json:"fst"`
	Snd ecash.BlindedSignatures `json:"snd"`
}

func (ms *MintServer) handleSplit(rw http.ResponseWriter, req *http.Request) {
	var splitReq splitRequest
	if err := json.NewDecoder(req.Body).Decode(&splitReq); err != nil {
		ms.writeErr(rw, ecash.EmptyBodyErr)
		return
	}

	fst, snd, err := ms.mint.Split(splitReq.Proofs, splitReq.Amount, splitReq.Outputs)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, splitResponse{Fst: fst, Snd: snd})
}

type meltRequest struct {
	Proofs         ecash.Proofs `json:"proofs"`
	PaymentRequest string       `json:"pr"`
}

type meltResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage"`
}

func (ms *MintServer) handleMelt(rw http.ResponseWriter, req *http.Request) {
	var meltReq meltRequest
	if err := json.NewDecoder(req.Body).Decode(&meltReq); err != nil {
		ms.writeErr(rw, ecash.EmptyBodyErr)
		return
	}

	paid, preimage, err := ms.mint.MeltTokens(meltReq.Proofs, meltReq.PaymentRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, meltResponse{Paid: paid, Preimage: preimage})
}

type checkRequest struct {
	Proofs ecash.Proofs `json:"proofs"`
}

func (ms *MintServer) handleCheckSpendable(rw http.ResponseWriter, req *http.Request) {
	var checkReq checkRequest
	if err := json.NewDecoder(req.Body).Decode(&checkReq); err != nil {
		ms.writeErr(rw, ecash.EmptyBodyErr)
		return
	}

	spendable, err := ms.mint.CheckSpendable(checkReq.Proofs)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, map[string][]bool{"spendable": spendable})
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, response any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(response); err != nil {
		ms.logger.Error("error writing response", slog.String("error", err.Error()))
	}
}

func (ms *MintServer) writeErr(rw http.ResponseWriter, err error) {
	rw.Header().Set("Content-Type", "application/json")

	var ecashErr *ecash.Error
	var valErr ecash.Error
	switch {
	case errors.As(err, &ecashErr):
		valErr = *ecashErr
	case errors.As(err, &valErr):
	default:
		valErr = ecash.StandardErr
	}

	ms.logger.Debug("request error", slog.String("detail", valErr.Detail), slog.Int("code", int(valErr.Code)))
	rw.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(rw).Encode(valErr)
}
