package web3

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Prefix of the EIP-7702 authorization signing payload.
const authorizationMagic = 0x05

/*
EIP-7702 authorization: the signer allows its account to delegate execution to
the code at ".Address". A zero chain id makes it valid on every chain. Obtained
via "Wallet.Authorize" or "ParseAuthorization", and carried by set-code
transactions; see "PrepareDelegation".
*/
type Authorization struct {
	ChainID uint64
	Address Address
	Nonce   uint64
	YParity uint8
	R       *big.Int
	S       *big.Int
}

type authorizationJson struct {
	ChainID HexUint64 `json:"chainId"`
	Address Address   `json:"address"`
	Nonce   HexUint64 `json:"nonce"`
	YParity HexUint64 `json:"yParity"`
	R       *HexInt   `json:"r"`
	S       *HexInt   `json:"s"`
}

// Implements "json.Marshaler" using the RPC field names.
func (self Authorization) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorizationJson{
		ChainID: HexUint64(self.ChainID),
		Address: self.Address,
		Nonce:   HexUint64(self.Nonce),
		YParity: HexUint64(self.YParity),
		R:       BigHex(bigOrZero(self.R)),
		S:       BigHex(bigOrZero(self.S)),
	})
}

// Implements "json.Unmarshaler".
func (self *Authorization) UnmarshalJSON(input []byte) error {
	var plain authorizationJson
	err := json.Unmarshal(input, &plain)
	if err != nil {
		return err
	}
	if plain.YParity > 1 {
		return errors.Errorf(`invalid authorization y-parity %v`, uint64(plain.YParity))
	}

	*self = Authorization{
		ChainID: uint64(plain.ChainID),
		Address: plain.Address,
		Nonce:   uint64(plain.Nonce),
		YParity: uint8(plain.YParity),
	}
	if plain.R != nil {
		self.R = new(big.Int).Set(plain.R.Big())
	}
	if plain.S != nil {
		self.S = new(big.Int).Set(plain.S.Big())
	}
	return nil
}

/*
Hash signed by the authority: keccak256 of the magic byte 0x05 followed by the
RLP list (chainId, address, nonce).
*/
func (self Authorization) SigningHash() (Hash, error) {
	payload, err := rlp.EncodeToBytes([]any{self.ChainID, common.Address(self.Address), self.Nonce})
	if err != nil {
		return Hash{}, errors.Wrap(err, `failed to encode authorization`)
	}
	return Keccak256([]byte{authorizationMagic}, payload), nil
}

// Recovers the account that signed the authorization.
func (self Authorization) Signer() (Address, error) {
	auth, err := self.toTypes()
	if err != nil {
		return Address{}, err
	}
	out, err := auth.Authority()
	if err != nil {
		return Address{}, errors.Wrap(err, `failed to recover authorization signer`)
	}
	return Address(out), nil
}

type authorizationRlp struct {
	ChainID uint64
	Address common.Address
	Nonce   uint64
	YParity uint8
	R       *big.Int
	S       *big.Int
}

// Encodes the signed six-tuple as an RLP list. Implements "encoding.BinaryMarshaler".
func (self Authorization) MarshalBinary() ([]byte, error) {
	out, err := rlp.EncodeToBytes(authorizationRlp{
		ChainID: self.ChainID,
		Address: common.Address(self.Address),
		Nonce:   self.Nonce,
		YParity: self.YParity,
		R:       bigOrZero(self.R),
		S:       bigOrZero(self.S),
	})
	return out, errors.Wrap(err, `failed to encode authorization`)
}

// Implements "encoding.BinaryUnmarshaler".
func (self *Authorization) UnmarshalBinary(input []byte) error {
	var plain authorizationRlp
	err := rlp.DecodeBytes(input, &plain)
	if err != nil {
		return errors.Wrap(err, `failed to decode authorization`)
	}
	if plain.YParity > 1 {
		return errors.Errorf(`invalid authorization y-parity %v`, plain.YParity)
	}

	*self = Authorization{
		ChainID: plain.ChainID,
		Address: Address(plain.Address),
		Nonce:   plain.Nonce,
		YParity: plain.YParity,
		R:       plain.R,
		S:       plain.S,
	}
	return nil
}

// Decodes an authorization encoded by "Authorization.MarshalBinary".
func ParseAuthorization(input []byte) (Authorization, error) {
	var out Authorization
	err := out.UnmarshalBinary(input)
	return out, err
}

func (self Authorization) toTypes() (types.SetCodeAuthorization, error) {
	r, err := toUint256(self.R)
	if err != nil {
		return types.SetCodeAuthorization{}, errors.Wrap(err, `invalid authorization signature R`)
	}
	s, err := toUint256(self.S)
	if err != nil {
		return types.SetCodeAuthorization{}, errors.Wrap(err, `invalid authorization signature S`)
	}

	return types.SetCodeAuthorization{
		ChainID: *uint256.NewInt(self.ChainID),
		Address: common.Address(self.Address),
		Nonce:   self.Nonce,
		V:       self.YParity,
		R:       *r,
		S:       *s,
	}, nil
}

func toAuthorizations(auths []Authorization) ([]types.SetCodeAuthorization, error) {
	out := make([]types.SetCodeAuthorization, len(auths))
	for i, auth := range auths {
		var err error
		out[i], err = auth.toTypes()
		if err != nil {
			return nil, errors.Wrapf(err, `invalid authorization %v`, i)
		}
	}
	return out, nil
}

func bigOrZero(num *big.Int) *big.Int {
	if num == nil {
		return new(big.Int)
	}
	return num
}

func toUint256(num *big.Int) (*uint256.Int, error) {
	if num == nil {
		return new(uint256.Int), nil
	}
	if num.Sign() < 0 {
		return nil, errors.Errorf(`negative value %v`, num)
	}
	out, overflow := uint256.FromBig(num)
	if overflow {
		return nil, errors.Errorf(`value %v overflows 256 bits`, num)
	}
	return out, nil
}
