package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/escrowx/escrowx/pkg/asset"
	"github.com/escrowx/escrowx/pkg/exchange"
	"github.com/escrowx/escrowx/pkg/tokengen"
)

// Server handles REST API and WebSocket connections
type Server struct {
	engine    *exchange.Engine
	ledger    *asset.Ledger
	generator *tokengen.Generator
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger

	allowedOrigins []string
}

// NewServer creates a new API server and wires engine events into the
// WebSocket hub
func NewServer(engine *exchange.Engine, ledger *asset.Ledger, generator *tokengen.Generator, logger *zap.SugaredLogger, allowedOrigins []string) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		engine:         engine,
		ledger:         ledger,
		generator:      generator,
		router:         mux.NewRouter(),
		hub:            newHub(logger),
		log:            logger,
		allowedOrigins: allowedOrigins,
	}

	engine.SetNotify(s.broadcastEvent)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order operations
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/batch", s.handleSubmitBatch).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/take", s.handleTakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")

	// Asset and account queries
	api.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/assets/generate", s.handleGenerateToken).Methods("POST")
	api.HandleFunc("/assets/{address}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from address", err.Error())
		return
	}
	makeReq, err := toMakeOrderRequest(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	supplied, err := parseValue(req.SuppliedNative)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid suppliedNative", err.Error())
		return
	}

	if err := s.engine.MakeOrder(makeReq, supplied, from); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "order rejected", err.Error())
		return
	}
	respondJSON(w, SubmitResponse{Status: "created", OrderID: makeReq.ID.Dec()})
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from address", err.Error())
		return
	}
	supplied, err := parseValue(req.SuppliedNative)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid suppliedNative", err.Error())
		return
	}

	reqs := make([]exchange.MakeOrderRequest, 0, len(req.Orders))
	for i, o := range req.Orders {
		mr, err := toMakeOrderRequest(o)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid order at index %d", i), err.Error())
			return
		}
		reqs = append(reqs, mr)
	}

	// Committed sub-orders stay committed even when the batch reports
	// failure, so a partial batch is not an HTTP error.
	ok := s.engine.MakeOrders(reqs, supplied, from)
	status := "created"
	if !ok {
		status = "partial"
	}
	respondJSON(w, SubmitResponse{Status: status})
}

func (s *Server) handleTakeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseValue(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var req TakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from address", err.Error())
		return
	}
	amount, err := parseValue(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	supplied, err := parseValue(req.SuppliedNative)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid suppliedNative", err.Error())
		return
	}

	if err := s.engine.TakeOrder(*id, amount, supplied, from); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "take rejected", err.Error())
		return
	}
	respondJSON(w, SubmitResponse{Status: "taken", OrderID: id.Dec()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseValue(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from address", err.Error())
		return
	}

	if err := s.engine.CancelOrder(*id, from); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "cancel rejected", err.Error())
		return
	}
	respondJSON(w, SubmitResponse{Status: "cancelled", OrderID: id.Dec()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseValue(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	// Absent orders report the zero-valued record, like the on-chain getter
	respondJSON(w, toOrderInfo(s.engine.GetOrder(*id)))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.OpenOrders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = toOrderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	refs := s.ledger.Assets()
	response := make([]AssetInfo, 0, len(refs))
	for _, ref := range refs {
		info := AssetInfo{Address: ref.Address.Hex(), Kind: ref.Kind.String()}
		if tok, ok := s.ledger.Token(ref.Address); ok && ref.Kind == asset.Fungible {
			info.Name = tok.Name
			info.Symbol = tok.Symbol
		}
		if col, ok := s.ledger.Collection(ref.Address); ok && ref.Kind == asset.NonFungible {
			info.Name = col.Name
			info.Symbol = col.Symbol
		}
		response = append(response, info)
	}
	respondJSON(w, response)
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req GenerateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from address", err.Error())
		return
	}
	supply, err := parseValue(req.Supply)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid supply", err.Error())
		return
	}

	addr, err := s.generator.Generate(from, req.Name, req.Symbol, req.Decimals, supply)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "generation failed", err.Error())
		return
	}
	respondJSON(w, GenerateTokenResponse{Status: "generated", TokenAddress: addr.Hex()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid asset address", "")
		return
	}
	assetAddr := common.HexToAddress(addressStr)

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from address", err.Error())
		return
	}
	// Escrow pulls run against the vault, so it is the default spender
	spender := s.engine.Vault()
	if req.Spender != "" {
		if spender, err = parseAddress(req.Spender); err != nil {
			respondError(w, http.StatusBadRequest, "invalid spender address", err.Error())
			return
		}
	}
	value, err := parseValue(req.Value)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid value", err.Error())
		return
	}

	if tok, ok := s.ledger.Token(assetAddr); ok {
		if err := tok.Approve(from, spender, value); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "approve rejected", err.Error())
			return
		}
		respondJSON(w, SubmitResponse{Status: "approved"})
		return
	}
	if col, ok := s.ledger.Collection(assetAddr); ok {
		if err := col.Approve(from, spender, value); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "approve rejected", err.Error())
			return
		}
		respondJSON(w, SubmitResponse{Status: "approved"})
		return
	}
	respondError(w, http.StatusNotFound, "unknown asset", assetAddr.Hex())
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	var balances []BalanceInfo
	balances = append(balances, BalanceInfo{
		AssetAddress: asset.NativeAddress.Hex(),
		Kind:         asset.Native.String(),
		Balance:      s.ledger.Bank().BalanceOf(addr).Dec(),
	})
	for _, ref := range s.ledger.Assets() {
		switch ref.Kind {
		case asset.Fungible:
			tok, _ := s.ledger.Token(ref.Address)
			balances = append(balances, BalanceInfo{
				AssetAddress: ref.Address.Hex(),
				Kind:         ref.Kind.String(),
				Symbol:       tok.Symbol,
				Balance:      tok.BalanceOf(addr).Dec(),
			})
		case asset.NonFungible:
			col, _ := s.ledger.Collection(ref.Address)
			balances = append(balances, BalanceInfo{
				AssetAddress: ref.Address.Hex(),
				Kind:         ref.Kind.String(),
				Symbol:       col.Symbol,
				Balance:      fmt.Sprintf("%d", col.BalanceOf(addr)),
			})
		}
	}
	respondJSON(w, balances)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event Broadcasting
// ==============================

// broadcastEvent pushes an engine event to "orders" channel subscribers
func (s *Server) broadcastEvent(ev exchange.Event) {
	event := OrderEvent{
		Type:      string(ev.Type),
		Order:     toOrderInfo(ev.Order),
		Timestamp: time.Now().UnixMilli(),
		Closed:    ev.Closed,
	}
	if ev.MakerAmount != nil {
		event.MakerAmount = ev.MakerAmount.Dec()
	}
	if ev.TakerAmount != nil {
		event.TakerAmount = ev.TakerAmount.Dec()
	}
	if ev.Taker != (common.Address{}) {
		event.Taker = ev.Taker.Hex()
	}
	s.hub.BroadcastEvent(ordersChannel, event)
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// parseValue accepts decimal or 0x-hex strings; empty means zero
func parseValue(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func toMakeOrderRequest(o OrderRequest) (exchange.MakeOrderRequest, error) {
	id, err := parseValue(o.ID)
	if err != nil {
		return exchange.MakeOrderRequest{}, fmt.Errorf("id: %w", err)
	}
	makerValue, err := parseValue(o.MakerValue)
	if err != nil {
		return exchange.MakeOrderRequest{}, fmt.Errorf("makerValue: %w", err)
	}
	takerValue, err := parseValue(o.TakerValue)
	if err != nil {
		return exchange.MakeOrderRequest{}, fmt.Errorf("takerValue: %w", err)
	}

	makerKind := asset.Kind(o.MakerKind)
	takerKind := asset.Kind(o.TakerKind)
	var makerAddr, takerAddr common.Address
	if makerKind != asset.Native {
		if makerAddr, err = parseAddress(o.MakerAssetAddress); err != nil {
			return exchange.MakeOrderRequest{}, fmt.Errorf("makerAssetAddress: %w", err)
		}
	}
	if takerKind != asset.Native {
		if takerAddr, err = parseAddress(o.TakerAssetAddress); err != nil {
			return exchange.MakeOrderRequest{}, fmt.Errorf("takerAssetAddress: %w", err)
		}
	}

	return exchange.MakeOrderRequest{
		ID:         *id,
		MakerValue: makerValue,
		TakerValue: takerValue,
		MakerAsset: asset.Ref{Kind: makerKind, Address: makerAddr},
		TakerAsset: asset.Ref{Kind: takerKind, Address: takerAddr},
	}, nil
}

func toOrderInfo(o exchange.Order) OrderInfo {
	return OrderInfo{
		ID:                o.ID.Dec(),
		MakerValue:        o.MakerItem.Value.Dec(),
		TakerValue:        o.TakerItem.Value.Dec(),
		MakerAssetAddress: o.MakerItem.Asset.Address.Hex(),
		TakerAssetAddress: o.TakerItem.Asset.Address.Hex(),
		MakerKind:         int8(o.MakerItem.Asset.Kind),
		TakerKind:         int8(o.TakerItem.Asset.Kind),
		Maker:             o.MakerItem.Owner.Hex(),
	}
}
