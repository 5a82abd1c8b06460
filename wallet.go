package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

/*
An externally owned account backed by a secp256k1 private key. Signs messages,
typed data, authorizations and transactions, and tracks the account nonce:
fetched once from the node, then advanced locally after each successful
broadcast. Safe for concurrent use.
*/
type Wallet struct {
	key     *ecdsa.PrivateKey
	address Address

	lock  sync.Mutex
	nonce *uint64
}

// Wraps an existing private key.
func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: Address(crypto.PubkeyToAddress(key.PublicKey))}
}

// Parses a hex-encoded private key, with or without the "0x" prefix.
func ParseWallet(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, errors.Wrap(err, `failed to parse private key`)
	}
	return NewWallet(key), nil
}

// Like "ParseWallet", but panics on error.
func MustParseWallet(hexKey string) *Wallet {
	out, err := ParseWallet(hexKey)
	if err != nil {
		panic(err)
	}
	return out
}

// Creates a wallet with a random key.
func GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, `failed to generate private key`)
	}
	return NewWallet(key), nil
}

// Account address derived from the public key.
func (self *Wallet) Address() Address { return self.address }

/*
Returns the next nonce to use. The first call fetches the pending transaction
count from the node; later calls return the cached value, which "SendTx"
advances.
*/
func (self *Wallet) Nonce(ctx context.Context, trans Trans) (uint64, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.nonce != nil {
		return *self.nonce, nil
	}

	nonce, err := EthGetTransactionCount(ctx, trans, self.address, BlockNumberPending)
	if err != nil {
		return 0, errors.Wrapf(err, `failed to fetch nonce of %v`, self.address)
	}
	self.nonce = &nonce
	return nonce, nil
}

// Forgets the cached nonce, forcing the next "Nonce" to ask the node.
func (self *Wallet) ResetNonce() {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.nonce = nil
}

func (self *Wallet) advanceNonce(used uint64) {
	self.lock.Lock()
	defer self.lock.Unlock()

	next := used + 1
	if self.nonce == nil || *self.nonce < next {
		self.nonce = &next
	}
}

/*
Signs a 32-byte digest. Returns the 65-byte signature R || S || V with V in
{0, 1}.
*/
func (self *Wallet) SignHash(hash Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], self.key)
	return sig, errors.Wrap(err, `failed to sign hash`)
}

/*
Signs a message per EIP-191 ("personal_sign"): the digest is keccak256 of
"\x19Ethereum Signed Message:\n" followed by the message length and the
message. V is 27 or 28, as wallets and "ecrecover" expect.
*/
func (self *Wallet) SignMessage(msg []byte) (HexBytes, error) {
	sig, err := self.SignHash(Hash(accounts.TextHash(msg)))
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recovers the signer of a message signed via "SignMessage".
func RecoverMessageSigner(msg []byte, sig []byte) (Address, error) {
	return recoverSigner(Hash(accounts.TextHash(msg)), sig)
}

/*
Signs EIP-712 typed data. The digest is keccak256 of "\x19\x01", the domain
separator and the hash of the message. V is 27 or 28.
*/
func (self *Wallet) SignTypedData(data apitypes.TypedData) (HexBytes, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, errors.Wrap(err, `failed to hash typed data`)
	}

	sig, err := self.SignHash(Hash(hash))
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recovers the signer of typed data signed via "SignTypedData".
func RecoverTypedDataSigner(data apitypes.TypedData, sig []byte) (Address, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return Address{}, errors.Wrap(err, `failed to hash typed data`)
	}
	return recoverSigner(Hash(hash), sig)
}

func recoverSigner(hash Hash, sig []byte) (Address, error) {
	if len(sig) != crypto.SignatureLength {
		return Address{}, errors.Errorf(`expected a signature of %v bytes, got %v`, crypto.SignatureLength, len(sig))
	}

	plain := make([]byte, len(sig))
	copy(plain, sig)
	if plain[crypto.RecoveryIDOffset] >= 27 {
		plain[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash[:], plain)
	if err != nil {
		return Address{}, errors.Wrap(err, `failed to recover signer`)
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

/*
Signs an EIP-7702 authorization delegating this account to the code at the
given address. The nonce must be the account's nonce at the time the carrying
transaction executes; when the wallet also sends that transaction, that's its
own nonce plus one.
*/
func (self *Wallet) Authorize(chainID uint64, target Address, nonce uint64) (Authorization, error) {
	out := Authorization{ChainID: chainID, Address: target, Nonce: nonce}

	hash, err := out.SigningHash()
	if err != nil {
		return out, err
	}

	sig, err := self.SignHash(hash)
	if err != nil {
		return out, errors.Wrap(err, `failed to sign authorization`)
	}

	out.R = new(big.Int).SetBytes(sig[:32])
	out.S = new(big.Int).SetBytes(sig[32:64])
	out.YParity = sig[crypto.RecoveryIDOffset]
	return out, nil
}

// Signs a prepared transaction, producing its canonical encoding and hash.
func (self *Wallet) SignTx(tx PreparedTx) (SignedTx, error) {
	if tx.From != ZeroAddress && tx.From != self.address {
		return SignedTx{}, contractualErrorf(`transaction from %v can't be signed by %v`, tx.From, self.address)
	}
	if tx.ChainID == 0 {
		return SignedTx{}, contractualErrorf(`transaction has no chain id`)
	}

	data, err := tx.TxData()
	if err != nil {
		return SignedTx{}, err
	}

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(tx.ChainID))
	signed, err := types.SignNewTx(self.key, signer, data)
	if err != nil {
		return SignedTx{}, errors.Wrap(err, `failed to sign transaction`)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return SignedTx{}, errors.Wrap(err, `failed to encode signed transaction`)
	}

	tx.From = self.address
	return SignedTx{PreparedTx: tx, Raw: raw, Hash: Hash(signed.Hash())}, nil
}
