package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Transaction envelope types.
const (
	TxTypeLegacy     = types.LegacyTxType
	TxTypeDynamicFee = types.DynamicFeeTxType
	TxTypeSetCode    = types.SetCodeTxType
)

/*
Optional settings for "PrepareTx". Unset fields are filled in from the node:
the nonce from the wallet, gas from "eth_estimateGas" times the gas buffer, the
priority fee from "eth_maxPriorityFeePerGas", and the fee cap as twice the
pending base fee plus the priority fee.
*/
type TxOpts struct {
	ChainID              uint64
	Value                *big.Int
	Nonce                *uint64
	Gas                  uint64
	GasBuffer            float64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	AccessList           AccessList

	// Build a type-0 transaction priced by "GasPrice", or by "eth_gasPrice" when
	// unset.
	Legacy   bool
	GasPrice *big.Int
}

// What a transaction does, as opposed to how it's paid for.
type TxRequest struct {
	To                *Address
	Data              HexBytes
	AuthorizationList []Authorization
}

/*
A fully specified, unsigned transaction. The type is implied by the fields:
type 4 with an authorization list, type 0 with a gas price, type 2 otherwise.
Immutable by convention; sign it via "Wallet.SignTx" or send it via "SendTx".
*/
type PreparedTx struct {
	Type                 uint8
	ChainID              uint64
	From                 Address
	Nonce                uint64
	To                   *Address
	Value                *big.Int
	Data                 HexBytes
	Gas                  uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	AccessList           AccessList
	AuthorizationList    []Authorization
}

// A signed transaction ready for "eth_sendRawTransaction".
type SignedTx struct {
	PreparedTx
	Raw  HexBytes
	Hash Hash
}

// Converts to the "go-ethereum" representation used for signing and encoding.
func (self PreparedTx) TxData() (types.TxData, error) {
	value := bigOrZero(self.Value)
	to := (*common.Address)(self.To)
	accessList := self.AccessList.toTypes()

	switch self.Type {
	case TxTypeLegacy:
		if self.GasPrice == nil {
			return nil, contractualErrorf(`legacy transaction requires a gas price`)
		}
		return &types.LegacyTx{
			Nonce:    self.Nonce,
			GasPrice: self.GasPrice,
			Gas:      self.Gas,
			To:       to,
			Value:    value,
			Data:     self.Data,
		}, nil

	case TxTypeDynamicFee:
		if self.MaxFeePerGas == nil || self.MaxPriorityFeePerGas == nil {
			return nil, contractualErrorf(`dynamic fee transaction requires fee caps`)
		}
		return &types.DynamicFeeTx{
			ChainID:    new(big.Int).SetUint64(self.ChainID),
			Nonce:      self.Nonce,
			GasTipCap:  self.MaxPriorityFeePerGas,
			GasFeeCap:  self.MaxFeePerGas,
			Gas:        self.Gas,
			To:         to,
			Value:      value,
			Data:       self.Data,
			AccessList: accessList,
		}, nil

	case TxTypeSetCode:
		if self.To == nil {
			return nil, contractualErrorf(`set-code transaction requires a recipient`)
		}
		if len(self.AuthorizationList) == 0 {
			return nil, contractualErrorf(`set-code transaction requires at least one authorization`)
		}
		if self.MaxFeePerGas == nil || self.MaxPriorityFeePerGas == nil {
			return nil, contractualErrorf(`set-code transaction requires fee caps`)
		}

		auths, err := toAuthorizations(self.AuthorizationList)
		if err != nil {
			return nil, err
		}
		tip, err := toUint256(self.MaxPriorityFeePerGas)
		if err != nil {
			return nil, errors.Wrap(err, `invalid priority fee`)
		}
		feeCap, err := toUint256(self.MaxFeePerGas)
		if err != nil {
			return nil, errors.Wrap(err, `invalid fee cap`)
		}
		amount, err := toUint256(value)
		if err != nil {
			return nil, errors.Wrap(err, `invalid value`)
		}
		chainID, err := toUint256(new(big.Int).SetUint64(self.ChainID))
		if err != nil {
			return nil, err
		}

		return &types.SetCodeTx{
			ChainID:    chainID,
			Nonce:      self.Nonce,
			GasTipCap:  tip,
			GasFeeCap:  feeCap,
			Gas:        self.Gas,
			To:         common.Address(*self.To),
			Value:      amount,
			Data:       self.Data,
			AccessList: accessList,
			AuthList:   auths,
		}, nil

	default:
		return nil, contractualErrorf(`unsupported transaction type %v`, self.Type)
	}
}

// Hash that the sender signs.
func (self PreparedTx) SigningHash() (Hash, error) {
	data, err := self.TxData()
	if err != nil {
		return Hash{}, err
	}
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(self.ChainID))
	return Hash(signer.Hash(types.NewTx(data))), nil
}

// Call arguments equivalent to this transaction, for simulation.
func (self PreparedTx) Msg() TxMsg {
	out := TxMsg{
		From:              self.From,
		To:                self.To,
		Data:              self.Data,
		Gas:               Ptr(HexUint64(self.Gas)),
		Nonce:             Ptr(HexUint64(self.Nonce)),
		AccessList:        self.AccessList,
		AuthorizationList: self.AuthorizationList,
	}
	if self.Value != nil {
		out.Value = BigHex(self.Value)
	}
	if self.Type == TxTypeLegacy {
		out.GasPrice = BigHex(self.GasPrice)
	} else {
		out.MaxFeePerGas = BigHex(self.MaxFeePerGas)
		out.MaxPriorityFeePerGas = BigHex(self.MaxPriorityFeePerGas)
	}
	return out
}

func (self AccessList) toTypes() types.AccessList {
	if self == nil {
		return nil
	}
	out := make(types.AccessList, len(self))
	for i, tuple := range self {
		keys := make([]common.Hash, len(tuple.StorageKeys))
		for j, key := range tuple.StorageKeys {
			keys[j] = common.Hash(key)
		}
		out[i] = types.AccessTuple{Address: common.Address(tuple.Address), StorageKeys: keys}
	}
	return out
}

/*
Builds an unsigned transaction from the wallet. See "TxOpts" for how unset
fields are filled in. Returns "*ContractualError" when the chain id can't be
determined, when the chain has no base fee (pre-London) and the fee cap isn't
given, or when the request is inconsistent with the options.
*/
func PrepareTx(ctx context.Context, trans Trans, wallet *Wallet, req TxRequest, opts TxOpts) (PreparedTx, error) {
	if len(req.AuthorizationList) > 0 {
		if opts.Legacy {
			return PreparedTx{}, contractualErrorf(`authorizations require a set-code transaction, not a legacy one`)
		}
		if req.To == nil {
			return PreparedTx{}, contractualErrorf(`set-code transaction requires a recipient`)
		}
	}

	chainID := opts.ChainID
	if chainID == 0 {
		var err error
		chainID, err = EthChainId(ctx, trans)
		if err != nil {
			return PreparedTx{}, errors.Wrap(err, `failed to determine chain id`)
		}
	}
	if chainID == 0 {
		return PreparedTx{}, contractualErrorf(`can't prepare a transaction without a chain id`)
	}

	out := PreparedTx{
		Type:              TxTypeDynamicFee,
		ChainID:           chainID,
		From:              wallet.Address(),
		To:                req.To,
		Value:             opts.Value,
		Data:              req.Data,
		AccessList:        opts.AccessList,
		AuthorizationList: req.AuthorizationList,
	}
	if len(req.AuthorizationList) > 0 {
		out.Type = TxTypeSetCode
	}
	if opts.Legacy {
		out.Type = TxTypeLegacy
	}

	if opts.Nonce != nil {
		out.Nonce = *opts.Nonce
	} else {
		nonce, err := wallet.Nonce(ctx, trans)
		if err != nil {
			return out, err
		}
		out.Nonce = nonce
	}

	err := prepareFees(ctx, trans, &out, opts)
	if err != nil {
		return out, err
	}

	out.Gas = opts.Gas
	if out.Gas == 0 {
		msg := out.Msg()
		msg.Gas = nil
		msg.Nonce = nil

		gas, err := EthEstimateGas(ctx, trans, msg, BlockNumberLatest)
		if err != nil {
			return out, errors.Wrap(err, `failed to estimate gas`)
		}

		buffer := opts.GasBuffer
		if buffer == 0 {
			buffer = DefaultGasBuffer
		}
		out.Gas = bufferGas(gas, buffer)
	}
	return out, nil
}

func prepareFees(ctx context.Context, trans Trans, out *PreparedTx, opts TxOpts) error {
	if out.Type == TxTypeLegacy {
		out.GasPrice = opts.GasPrice
		if out.GasPrice == nil {
			price, err := EthGasPrice(ctx, trans)
			if err != nil {
				return errors.Wrap(err, `failed to fetch gas price`)
			}
			out.GasPrice = price
		}
		return nil
	}

	tip := opts.MaxPriorityFeePerGas
	if tip == nil {
		var err error
		tip, err = EthMaxPriorityFeePerGas(ctx, trans)
		if err != nil {
			return errors.Wrap(err, `failed to fetch priority fee`)
		}
	}
	out.MaxPriorityFeePerGas = tip

	feeCap := opts.MaxFeePerGas
	if feeCap == nil {
		head, err := EthGetBlockByNumber(ctx, trans, BlockNumberPending)
		if err != nil {
			return errors.Wrap(err, `failed to fetch pending block`)
		}
		if head.BaseFeePerGas == nil {
			return contractualErrorf(`block %v has no base fee: the chain doesn't support EIP-1559`, uint64(head.Number))
		}
		feeCap = new(big.Int).Mul(head.BaseFeePerGas.Big(), big.NewInt(2))
		feeCap.Add(feeCap, tip)
	}
	out.MaxFeePerGas = feeCap
	return nil
}

/*
Builds a sponsored EIP-7702 transaction: the wallet pays for a call to the
authority's own account, which executes under the delegated code. The
authorization must be signed by the authority, for this chain or for any chain.
*/
func PrepareDelegation(ctx context.Context, trans Trans, sponsor *Wallet, auth Authorization, data []byte, opts TxOpts) (PreparedTx, error) {
	authority, err := auth.Signer()
	if err != nil {
		return PreparedTx{}, err
	}

	if opts.ChainID == 0 {
		opts.ChainID, err = EthChainId(ctx, trans)
		if err != nil {
			return PreparedTx{}, errors.Wrap(err, `failed to determine chain id`)
		}
	}
	if auth.ChainID != 0 && auth.ChainID != opts.ChainID {
		return PreparedTx{}, contractualErrorf(`authorization for chain %v can't be used on chain %v`, auth.ChainID, opts.ChainID)
	}

	return PrepareTx(ctx, trans, sponsor, TxRequest{
		To:                &authority,
		Data:              data,
		AuthorizationList: []Authorization{auth},
	}, opts)
}

/*
Signs the transaction and broadcasts it via "eth_sendRawTransaction". Advances
the wallet's cached nonce only if the node accepted the transaction.
*/
func SendTx(ctx context.Context, trans Trans, wallet *Wallet, tx PreparedTx) (Hash, error) {
	signed, err := wallet.SignTx(tx)
	if err != nil {
		return Hash{}, err
	}

	hash, err := EthSendRawTransaction(ctx, trans, signed.Raw)
	if err != nil {
		return Hash{}, errors.Wrapf(err, `failed to send transaction %v`, signed.Hash)
	}
	if hash != signed.Hash {
		Logger().Warn(`node reported an unexpected transaction hash`,
			zap.Stringer("expected", signed.Hash),
			zap.Stringer("actual", hash),
		)
	}

	wallet.advanceNonce(tx.Nonce)
	return signed.Hash, nil
}
