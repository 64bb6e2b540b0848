package onchain

// watcher.go — Ledger watcher de fills en los exchanges CTF de Polymarket.
//
// Escucha eventos OrderFilled del exchange normal y del NegRisk, filtra
// por las cuentas seguidas y los convierte en señales. El timestamp del
// bloque es el timestamp autoritativo del trade; el precio del gas de la
// transacción entra como señal de urgencia.
//
// Modo push (SubscribeFilterLogs sobre websocket) con backfill por
// FilterLogs desde el último cursor (block, logIndex).

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	// Exchanges CTF en Polygon
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	headerCacheMax  = 512
	backfillMaxSpan = uint64(3000) // bloques por llamada a FilterLogs
	reconnectBase   = 2 * time.Second
	reconnectMax    = time.Minute
)

var exchangeABI abi.ABI

func init() {
	var err error
	exchangeABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "OrderFilled",
			"type": "event",
			"inputs": [
				{"name": "orderHash", "type": "bytes32", "indexed": true},
				{"name": "maker", "type": "address", "indexed": true},
				{"name": "taker", "type": "address", "indexed": true},
				{"name": "makerAssetId", "type": "uint256", "indexed": false},
				{"name": "takerAssetId", "type": "uint256", "indexed": false},
				{"name": "makerAmountFilled", "type": "uint256", "indexed": false},
				{"name": "takerAmountFilled", "type": "uint256", "indexed": false},
				{"name": "fee", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("exchange abi parse: " + err.Error())
	}
}

// Cursor marca hasta dónde se ha procesado el ledger.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"log_index"`
}

// Watcher sigue los OrderFilled de un set de cuentas.
type Watcher struct {
	rpcURL    string
	exchanges []common.Address

	mu            sync.Mutex
	tracked       map[common.Address]struct{}
	cursor        Cursor
	backfillDepth uint64
	dropped       int

	headers map[uint64]*types.Header // block → header, acotado
}

// NewWatcher crea el watcher. rpcURL debe ser un endpoint websocket de
// Polygon para poder suscribirse a logs.
func NewWatcher(rpcURL string, cursor Cursor) *Watcher {
	return &Watcher{
		rpcURL: rpcURL,
		exchanges: []common.Address{
			common.HexToAddress(normalExchange),
			common.HexToAddress(negRiskExchange),
		},
		tracked: make(map[common.Address]struct{}),
		cursor:  cursor,
		headers: make(map[uint64]*types.Header),
	}
}

// SetBackfillDepth fija cuántos bloques hacia atrás repasar cuando no
// hay cursor previo. Cero desactiva el backfill en arranque limpio.
func (w *Watcher) SetBackfillDepth(blocks uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.backfillDepth = blocks
}

// SetAccounts reemplaza el set de cuentas seguidas.
func (w *Watcher) SetAccounts(accounts []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked = make(map[common.Address]struct{}, len(accounts))
	for _, a := range accounts {
		w.tracked[common.HexToAddress(a)] = struct{}{}
	}
}

// Cursor devuelve el último cursor procesado, para persistirlo.
func (w *Watcher) Cursor() Cursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Dropped devuelve cuántos logs malformados se descartaron.
func (w *Watcher) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Run conecta, hace backfill desde el cursor y queda suscrito. Se
// reconecta solo con backoff hasta que el contexto muera.
func (w *Watcher) Run(ctx context.Context, out chan<- domain.Signal) error {
	delay := reconnectBase
	for {
		err := w.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("onchain: session ended, reconnecting", "err", err, "delay", delay)

		select {
		case <-time.After(jitter(delay)):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// jitter desincroniza las reconexiones: espera uniforme en [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (w *Watcher) session(ctx context.Context, out chan<- domain.Signal) error {
	client, err := ethclient.DialContext(ctx, w.rpcURL)
	if err != nil {
		return fmt.Errorf("onchain: dial %s: %w", w.rpcURL, err)
	}
	defer client.Close()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("onchain: head: %w", err)
	}

	if err := w.backfill(ctx, client, head, out); err != nil {
		return err
	}

	query := ethereum.FilterQuery{
		Addresses: w.exchanges,
		Topics:    [][]common.Hash{{exchangeABI.Events["OrderFilled"].ID}},
	}

	logs := make(chan types.Log, 256)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("onchain: subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	slog.Info("onchain: subscribed", "from_block", head)

	for {
		select {
		case err := <-sub.Err():
			return fmt.Errorf("onchain: subscription: %w", err)
		case lg := <-logs:
			w.handleLog(ctx, client, lg, out)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backfill repasa los bloques entre el cursor y head en tramos acotados.
func (w *Watcher) backfill(ctx context.Context, client *ethclient.Client, head uint64, out chan<- domain.Signal) error {
	w.mu.Lock()
	from := w.cursor.Block
	depth := w.backfillDepth
	w.mu.Unlock()
	if from == 0 && depth > 0 && head > depth {
		from = head - depth
	}
	if from == 0 || from >= head {
		return nil
	}

	for start := from; start <= head; start += backfillMaxSpan {
		end := start + backfillMaxSpan - 1
		if end > head {
			end = head
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: w.exchanges,
			Topics:    [][]common.Hash{{exchangeABI.Events["OrderFilled"].ID}},
		}
		logs, err := client.FilterLogs(ctx, query)
		if err != nil {
			return fmt.Errorf("onchain: backfill %d-%d: %w", start, end, err)
		}
		for _, lg := range logs {
			w.handleLog(ctx, client, lg, out)
		}
	}
	slog.Info("onchain: backfill complete", "from", from, "to", head)
	return nil
}

// handleLog decodifica un OrderFilled y lo publica si el maker está
// entre las cuentas seguidas y el log es posterior al cursor.
func (w *Watcher) handleLog(ctx context.Context, client *ethclient.Client, lg types.Log, out chan<- domain.Signal) {
	if lg.Removed || len(lg.Topics) < 3 {
		return
	}

	w.mu.Lock()
	if lg.BlockNumber < w.cursor.Block ||
		(lg.BlockNumber == w.cursor.Block && lg.Index <= w.cursor.LogIndex) {
		w.mu.Unlock()
		return
	}
	maker := common.BytesToAddress(lg.Topics[1].Bytes())
	_, followed := w.tracked[maker]
	w.mu.Unlock()

	sig, ok := w.decode(ctx, client, lg, maker)

	// el cursor avanza también sobre logs ajenos: un restart no los repasa
	w.mu.Lock()
	w.cursor = Cursor{Block: lg.BlockNumber, LogIndex: lg.Index}
	if !ok {
		w.dropped++
	}
	w.mu.Unlock()

	if !ok || !followed {
		return
	}

	select {
	case out <- sig:
	default:
		slog.Warn("onchain: signal channel full, dropping", "tx", sig.TxHash)
	}
}

// orderFill es el contenido útil de un OrderFilled ya interpretado.
type orderFill struct {
	Side     domain.TradeSide
	TokenID  string
	Price    float64
	SizeUSDC float64
}

// parseOrderFilled interpreta el data de un OrderFilled. makerAssetId == 0
// significa que el maker entregó colateral (compra); takerAssetId == 0,
// que lo recibió (venta). Los importes vienen con 6 decimales.
func parseOrderFilled(data []byte) (orderFill, bool) {
	vals, err := exchangeABI.Events["OrderFilled"].Inputs.Unpack(data)
	if err != nil || len(vals) < 5 {
		return orderFill{}, false
	}

	makerAsset, ok1 := vals[0].(*big.Int)
	takerAsset, ok2 := vals[1].(*big.Int)
	makerAmount, ok3 := vals[2].(*big.Int)
	takerAmount, ok4 := vals[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return orderFill{}, false
	}

	makerUSDC := float64(makerAmount.Int64()) / 1e6
	takerUSDC := float64(takerAmount.Int64()) / 1e6
	if makerUSDC <= 0 || takerUSDC <= 0 {
		return orderFill{}, false
	}

	var f orderFill
	switch {
	case makerAsset.Sign() == 0:
		f = orderFill{Side: domain.SideBuy, TokenID: takerAsset.String(),
			Price: makerUSDC / takerUSDC, SizeUSDC: makerUSDC}
	case takerAsset.Sign() == 0:
		f = orderFill{Side: domain.SideSell, TokenID: makerAsset.String(),
			Price: takerUSDC / makerUSDC, SizeUSDC: takerUSDC}
	default:
		return orderFill{}, false // intercambio token-token, no nos aplica
	}
	if f.Price <= 0 || f.Price >= 1 {
		return orderFill{}, false
	}
	return f, true
}

// decode convierte el log en señal, completando timestamp de bloque y
// gas price.
func (w *Watcher) decode(ctx context.Context, client *ethclient.Client, lg types.Log, maker common.Address) (domain.Signal, bool) {
	fill, ok := parseOrderFilled(lg.Data)
	if !ok {
		return domain.Signal{}, false
	}

	header := w.header(ctx, client, lg.BlockNumber)
	if header == nil {
		return domain.Signal{}, false
	}

	return domain.Signal{
		Origin:       domain.OriginOnchain,
		Account:      strings.ToLower(maker.Hex()),
		TokenID:      fill.TokenID,
		Side:         fill.Side,
		Price:        fill.Price,
		SizeUSDC:     fill.SizeUSDC,
		TradeTime:    time.Unix(int64(header.Time), 0).UTC(),
		TxHash:       lg.TxHash.Hex(),
		BlockNumber:  lg.BlockNumber,
		LogIndex:     lg.Index,
		GasPriceGwei: w.gasPriceGwei(ctx, client, lg.TxHash),
	}, true
}

// header cachea cabeceras por bloque: varios fills suelen compartirlo.
func (w *Watcher) header(ctx context.Context, client *ethclient.Client, block uint64) *types.Header {
	w.mu.Lock()
	if h, ok := w.headers[block]; ok {
		w.mu.Unlock()
		return h
	}
	if len(w.headers) >= headerCacheMax {
		w.headers = make(map[uint64]*types.Header)
	}
	w.mu.Unlock()

	h, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		slog.Warn("onchain: header fetch failed", "block", block, "err", err)
		return nil
	}

	w.mu.Lock()
	w.headers[block] = h
	w.mu.Unlock()
	return h
}

// gasPriceGwei devuelve el gas price efectivo de la transacción, 0 si no
// se puede obtener. Solo es una señal de urgencia, no bloquea nada.
func (w *Watcher) gasPriceGwei(ctx context.Context, client *ethclient.Client, txHash common.Hash) float64 {
	tx, _, err := client.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return 0
	}
	gp := tx.GasPrice()
	if gp == nil {
		return 0
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(gp), big.NewFloat(1e9))
	out, _ := gwei.Float64()
	return out
}
