/*
Library for interacting with Ethereum-compatible chains from within a Go
program: typed contract bindings, a strict ABI codec, JSON-RPC transports with
per-network dispatch, event log retrieval, transaction signing, and batching
through Multicall3. The "flow" subpackage adds a dataflow runtime for
continuous indexing, and "cmd/web3" is a CLI built on top of both.

Features:

	* Ethereum types with hex JSON encoding

	* HTTP and WebSocket transports, with retries and reconnects

	* strongly-typed RPC methods

	* ABI encoding and decoding, from JSON definitions or Go types

	* contract bindings declared as Go structs

	* event filtering, backfill, and live subscriptions

	* EIP-1559 and EIP-7702 transactions

	* Multicall3 batching

Types

Interacting with Ethereum over RPC involves transmitting raw bytes, addresses,
hashes, and numbers in a hex-encoded format prefixed with "0x". This package
provides aliases for regular Go types such as []byte, [32]byte, *big.Int,
uint64, specialized for hex encoding and decoding. It also includes types for
various RPC methods.

All byte array types such as Address, Hash, and Word have a special rule: a
zero-initialized array is JSON-encoded as "null", not as "0x0000000000000.....".
For consistency, this rule also affects MarshalText, where an empty array
encodes as "". The .String() method is unaffected.

Networks and RPC

A "Network" describes a chain: id, endpoints, block time, retry policy.
Well-known networks are predefined and registered; more can be loaded from
YAML via "LoadNetworks". "Dispatch" returns the shared dispatcher of a network,
which routes calls over HTTP and subscriptions over WebSocket:

	trans := web3.Dispatch(web3.Mainnet.FromEnv())
	num, err := web3.EthBlockNumber(ctx, trans)

For a single endpoint, use "Dial", which picks the transport by URL scheme.

Contracts

Contracts are declared as structs of function and event handles. Signatures
are derived from the Go types of arguments and results:

	type Erc20 struct {
		web3.Contract
		Symbol    web3.Function[web3.Empty, string]
		BalanceOf web3.Function[web3.Address, *big.Int]
		Transfer  web3.Function[TransferArgs, bool]
		Transfers web3.Event[TransferEvent] `abi:"Transfer"`
	}

	token := web3.MustBind[Erc20](tokenAddress)
	balance, err := web3.On(token, web3.Base).BalanceOf.MustWith(holder).Get(ctx, nil)

A handle without an explicit network or transport uses the network attached to
the context via "WithNetwork", then the default network set via
"SetDefaultNetwork".

Sending a transaction fills in the chain id, nonce, fees and gas:

	hash, err := token.Transfer.MustWith(args).Execute(ctx, wallet, web3.TxOpts{})

Events

Event handles build log filters, decode logs, and sweep historical ranges in
windows that adapt to provider limits:

	for log, err := range token.Transfers.Backfill(ctx, web3.BackfillOpts{From: start, Step: 2000}) {
		if err != nil {
			return err
		}
		fmt.Println(log.Event.From, log.Event.Value)
	}

Cancelation

All network operations accept a context.Context as the first argument. Use it
for cancelation. In a web server with "net/http", use the request context,
which is canceled when the request is finished.
*/
package web3
