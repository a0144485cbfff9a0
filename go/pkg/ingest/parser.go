package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pair-signals/go/pkg/shared"
)

// streamEnvelope is the combined-stream wrapper: {"stream":"btcusdt@trade","data":{...}}.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// binanceTrade is a single trade event. Upper and lower case keys are distinct
// fields on the wire.
type binanceTrade struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// Parser turns raw trade payloads into ticks for the tracked symbols.
type Parser struct {
	tracked map[string]struct{}
}

func NewParser(symbols []string) *Parser {
	p := &Parser{tracked: make(map[string]struct{}, len(symbols))}
	for _, s := range symbols {
		p.tracked[strings.ToUpper(s)] = struct{}{}
	}
	return p
}

// Parse returns a *shared.ParseError for anything that is not a valid trade
// on a tracked symbol.
func (p *Parser) Parse(payload []byte) (shared.Tick, error) {
	var env streamEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return shared.Tick{}, reject(shared.ReasonMalformed, err)
	}
	body := payload
	if len(env.Data) > 0 {
		body = env.Data
	}

	var tr binanceTrade
	if err := json.Unmarshal(body, &tr); err != nil {
		return shared.Tick{}, reject(shared.ReasonMalformed, err)
	}
	if tr.Event != "" && tr.Event != "trade" {
		return shared.Tick{}, reject(shared.ReasonEventType, errors.New(tr.Event))
	}

	ms := tr.TradeTime
	if ms <= 0 {
		ms = tr.EventTime
	}
	if ms <= 0 {
		return shared.Tick{}, reject(shared.ReasonTimestamp, nil)
	}

	price, err := decimal.NewFromString(strings.TrimSpace(tr.Price))
	if err != nil {
		return shared.Tick{}, reject(shared.ReasonPrice, err)
	}
	if !price.IsPositive() {
		return shared.Tick{}, reject(shared.ReasonPrice, errors.New("not positive: "+price.String()))
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(tr.Quantity))
	if err != nil {
		return shared.Tick{}, reject(shared.ReasonQuantity, err)
	}
	if qty.IsNegative() {
		return shared.Tick{}, reject(shared.ReasonQuantity, errors.New("negative: "+qty.String()))
	}

	sym := strings.ToUpper(strings.TrimSpace(tr.Symbol))
	if sym == "" && env.Stream != "" {
		sym = strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])
	}
	if _, ok := p.tracked[sym]; !ok {
		return shared.Tick{}, reject(shared.ReasonSymbol, errors.New(sym))
	}

	return shared.Tick{
		Symbol:   sym,
		Time:     time.UnixMilli(ms).UTC(),
		Price:    price.InexactFloat64(),
		Quantity: qty.InexactFloat64(),
		TradeID:  tr.TradeID,
	}, nil
}

func reject(reason string, err error) error {
	return &shared.ParseError{Reason: reason, Err: err}
}
