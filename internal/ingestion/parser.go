package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"PoolIndexer/internal/event"
)

var ErrMalformed = errors.New("malformed event")

// --- JSON wire format ---
// Producers decode logs upstream and publish one message per log.
// Field names use snake_case; uint256 values are decimal (or 0x hex)
// strings.

type logJSON struct {
	Address        string `json:"address"`
	TxHash         string `json:"tx_hash"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"`
	LogIndex       uint64 `json:"log_index"`
}

type createdJSON struct {
	logJSON
	PoolAddress string `json:"pool_address"`
	Manager     string `json:"manager"`
}

type depositJSON struct {
	logJSON
	User               string `json:"user"`
	Amount             string `json:"amount"`
	AmountOfUSD        string `json:"amount_of_usd"`
	NumberOfPoolTokens string `json:"number_of_pool_tokens"`
}

type withdrawJSON struct {
	logJSON
	User               string `json:"user"`
	TokenAmount        string `json:"token_amount"`
	NumberOfPoolTokens string `json:"number_of_pool_tokens"`
	ValueWithdrawn     string `json:"value_withdrawn"`
}

type feeJSON struct {
	logJSON
	Amount string `json:"amount"`
}

// ParseRawEvent converts a RawEvent into a typed event.Event.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	return Parse(event.ParseEventType(raw.EventType), raw.Data)
}

// Parse decodes one event payload of the given type.
func Parse(et event.EventType, data []byte) (event.Event, error) {
	switch et {
	case event.EventTypeCreatedPool:
		return parseCreated(data, event.PoolKindPool)
	case event.EventTypeCreatedNFTPool:
		return parseCreated(data, event.PoolKindNFTPool)
	case event.EventTypeDeposit:
		return parseDeposit(data)
	case event.EventTypeNFTPoolDeposit:
		return parseNFTPoolDeposit(data)
	case event.EventTypeWithdraw:
		return parseWithdraw(data)
	case event.EventTypeNFTPoolWithdraw:
		return parseNFTPoolWithdraw(data)
	case event.EventTypeMintedManagerFee:
		return parseMintedManagerFee(data)
	case event.EventTypeExecutedTransaction:
		return parseExecuted(data, event.PoolKindPool)
	case event.EventTypeNFTPoolExecutedTransaction:
		return parseExecuted(data, event.PoolKindNFTPool)
	default:
		return nil, fmt.Errorf("%w: unknown event type %s", ErrMalformed, et)
	}
}

func (j logJSON) toLog() (event.Log, error) {
	if !event.IsHexAddress(j.Address) {
		return event.Log{}, fmt.Errorf("%w: address %q", ErrMalformed, j.Address)
	}
	if j.TxHash == "" {
		return event.Log{}, fmt.Errorf("%w: missing tx_hash", ErrMalformed)
	}
	if j.BlockTimestamp < 0 {
		return event.Log{}, fmt.Errorf("%w: negative block_timestamp", ErrMalformed)
	}
	return event.Log{
		Address:     event.NormalizeAddress(j.Address),
		TxHash:      event.NormalizeHash(j.TxHash),
		BlockNumber: j.BlockNumber,
		Timestamp:   j.BlockTimestamp,
		LogIndex:    j.LogIndex,
	}, nil
}

func parseAddress(field, s string) (string, error) {
	if !event.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %s %q", ErrMalformed, field, s)
	}
	return event.NormalizeAddress(s), nil
}

// parseUint returns a non-negative integer from a decimal or 0x string.
func parseUint(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

// parseOptionalUint is parseUint that maps "" to nil.
func parseOptionalUint(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseUint(field, s)
}

func decode(name string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrMalformed, name, err)
	}
	return nil
}

func parseCreated(data []byte, kind event.PoolKind) (*event.PoolCreated, error) {
	var j createdJSON
	if err := decode("PoolCreated", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	pool, err := parseAddress("pool_address", j.PoolAddress)
	if err != nil {
		return nil, err
	}
	mgr, err := parseAddress("manager", j.Manager)
	if err != nil {
		return nil, err
	}
	return &event.PoolCreated{Log: l, Kind: kind, PoolAddress: pool, ManagerAddress: mgr}, nil
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j depositJSON
	if err := decode("Deposit", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	user, err := parseAddress("user", j.User)
	if err != nil {
		return nil, err
	}
	amount, err := parseUint("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Deposit{Log: l, Kind: event.PoolKindPool, UserAddress: user, Amount: amount}, nil
}

func parseNFTPoolDeposit(data []byte) (*event.Deposit, error) {
	var j depositJSON
	if err := decode("NFTPoolDeposit", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	user, err := parseAddress("user", j.User)
	if err != nil {
		return nil, err
	}
	amount, err := parseUint("amount_of_usd", j.AmountOfUSD)
	if err != nil {
		return nil, err
	}
	tokens, err := parseUint("number_of_pool_tokens", j.NumberOfPoolTokens)
	if err != nil {
		return nil, err
	}
	return &event.Deposit{
		Log:         l,
		Kind:        event.PoolKindNFTPool,
		UserAddress: user,
		Amount:      amount,
		PoolTokens:  tokens,
	}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := decode("Withdraw", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	user, err := parseAddress("user", j.User)
	if err != nil {
		return nil, err
	}
	tokens, err := parseUint("token_amount", j.TokenAmount)
	if err != nil {
		return nil, err
	}
	value, err := parseOptionalUint("value_withdrawn", j.ValueWithdrawn)
	if err != nil {
		return nil, err
	}
	return &event.Withdraw{
		Log:            l,
		Kind:           event.PoolKindPool,
		UserAddress:    user,
		PoolTokens:     tokens,
		ValueWithdrawn: value,
	}, nil
}

func parseNFTPoolWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := decode("NFTPoolWithdraw", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	user, err := parseAddress("user", j.User)
	if err != nil {
		return nil, err
	}
	tokens, err := parseUint("number_of_pool_tokens", j.NumberOfPoolTokens)
	if err != nil {
		return nil, err
	}
	value, err := parseUint("value_withdrawn", j.ValueWithdrawn)
	if err != nil {
		return nil, err
	}
	return &event.Withdraw{
		Log:            l,
		Kind:           event.PoolKindNFTPool,
		UserAddress:    user,
		PoolTokens:     tokens,
		ValueWithdrawn: value,
	}, nil
}

func parseMintedManagerFee(data []byte) (*event.MintedManagerFee, error) {
	var j feeJSON
	if err := decode("MintedManagerFee", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	amount, err := parseUint("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.MintedManagerFee{Log: l, Amount: amount}, nil
}

func parseExecuted(data []byte, kind event.PoolKind) (*event.ExecutedTransaction, error) {
	var j logJSON
	if err := decode("ExecutedTransaction", data, &j); err != nil {
		return nil, err
	}
	l, err := j.toLog()
	if err != nil {
		return nil, err
	}
	return &event.ExecutedTransaction{Log: l, Kind: kind}, nil
}
